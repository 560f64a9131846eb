package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"taskmanager/internal/config"
	"taskmanager/internal/dashboard"
	"taskmanager/internal/lifecycle"
	"taskmanager/internal/model"
	"taskmanager/internal/pkg/logger"
	"taskmanager/internal/store"
)

// env 是命令执行期间共享的依赖。
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	close  func()
}

func openEnv(configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &env{
		cfg:    cfg,
		logger: logger.NewForEnv(cfg.App.Env, cfg.App.LogLevel),
		store:  store.New(db),
		close: func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		},
	}, nil
}

func createAdminCmd(configPath *string) *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator, or promote an existing user",
		RunE: func(cmd *cobra.Command, args []string) error {
			email = strings.ToLower(strings.TrimSpace(email))
			if email == "" {
				return errors.New("--email is required")
			}
			if len(password) < 6 {
				return errors.New("--password must be at least 6 characters")
			}
			e, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer e.close()

			created, err := e.store.EnsureAdmin(cmd.Context(), name, email, password)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "created admin %s\n", email)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists, ensured admin and active\n", email)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "Administrator", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Login e-mail")
	cmd.Flags().StringVar(&password, "password", "", "Initial password (ignored for existing users)")
	return cmd
}

func trashCmd(configPath *string, use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := lifecycle.ParseAction(action)
			if err != nil {
				return err
			}
			e, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer e.close()

			svc := lifecycle.NewService(e.store, e.store, nil, e.logger, e.cfg.App.OperationTimeout)
			affected, err := svc.DeleteOrRestore(cmd.Context(), 0, a)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d task(s)\n", use, affected)
			return nil
		},
	}
}

func summaryCmd(configPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the admin dashboard summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer e.close()

			agg := dashboard.NewAggregator(e.store, e.store, e.logger, e.cfg.App.RecentLimit)
			summary, err := agg.Summarize(cmd.Context(), dashboard.PolicyFor(model.Caller{IsAdmin: true}))
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), summary, asJSON)
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

func printSummary(w io.Writer, s *dashboard.Summary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"totalTasks": s.TotalTasks,
			"tasks":      s.GroupedByStage,
			"graphData":  s.GroupedByPriority,
		})
	}

	fmt.Fprintf(w, "Total tasks: %d\n", s.TotalTasks)
	fmt.Fprintln(w, "\nBy stage:")
	for _, p := range s.GroupedByStage.Pairs() {
		fmt.Fprintf(w, "  %-14s %d\n", p.Name+":", p.Total)
	}
	fmt.Fprintln(w, "\nBy priority:")
	for _, p := range s.GroupedByPriority {
		fmt.Fprintf(w, "  %-14s %d\n", p.Name+":", p.Total)
	}
	fmt.Fprintln(w, "\nMost recent:")
	if len(s.RecentTasks) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, t := range s.RecentTasks {
		fmt.Fprintf(w, "  #%-5d %-12s %-8s %s\n", t.ID, t.Stage, t.Priority, t.Title)
	}
	return nil
}
