// taskctl 是任务管理服务的运维命令行工具。
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "taskctl",
		Short:         "Administrative commands for the task manager",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.json (default configs/config.json)")

	rootCmd.AddCommand(createAdminCmd(&configPath))
	rootCmd.AddCommand(trashCmd(&configPath, "purge-trash", "Permanently delete every trashed task", "deleteAll"))
	rootCmd.AddCommand(trashCmd(&configPath, "restore-trash", "Restore every trashed task", "restoreAll"))
	rootCmd.AddCommand(summaryCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
