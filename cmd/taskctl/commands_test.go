package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"taskmanager/internal/dashboard"
	"taskmanager/internal/model"
)

func sampleSummary() *dashboard.Summary {
	stages := dashboard.NewCounts()
	stages.Add("completed")
	stages.Add("in progress")
	stages.Add("completed")
	return &dashboard.Summary{
		TotalTasks:        3,
		RecentTasks:       []model.Task{{ID: 3, Title: "Ship", Stage: model.StageCompleted, Priority: model.PriorityHigh}},
		GroupedByStage:    stages,
		GroupedByPriority: []dashboard.NameTotal{{Name: "high", Total: 3}},
	}
}

func TestPrintSummary_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := printSummary(&buf, sampleSummary(), false); err != nil {
		t.Fatalf("print: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Total tasks: 3") || !strings.Contains(out, "#3") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if strings.Index(out, "completed:") > strings.Index(out, "in progress:") {
		t.Fatalf("expected stages in first-seen order:\n%s", out)
	}
}

func TestPrintSummary_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := printSummary(&buf, sampleSummary(), true); err != nil {
		t.Fatalf("print: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["totalTasks"].(float64) != 3 {
		t.Fatalf("unexpected totalTasks %v", decoded["totalTasks"])
	}
}

func TestCommands_Registered(t *testing.T) {
	path := ""
	for _, cmd := range []interface{ Name() string }{
		createAdminCmd(&path),
		trashCmd(&path, "purge-trash", "", "deleteAll"),
		trashCmd(&path, "restore-trash", "", "restoreAll"),
		summaryCmd(&path),
	} {
		if cmd.Name() == "" {
			t.Fatalf("command without name")
		}
	}
	if err := createAdminCmd(&path).RunE(createAdminCmd(&path), nil); err == nil || !strings.Contains(err.Error(), "--email") {
		t.Fatalf("expected missing email error, got %v", err)
	}
}
