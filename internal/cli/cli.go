package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/agenticassets/AA-coding-agent/internal/config"
	"github.com/agenticassets/AA-coding-agent/internal/log"
	internal_storage "github.com/agenticassets/AA-coding-agent/internal/storage"
	"github.com/agenticassets/AA-coding-agent/pkg/models"
	"github.com/spf13/cobra"
)

// SetupCLI registers the operator commands. Reads go straight to the store;
// stop performs the same conditional status write the stop endpoint does, and
// leaves environment teardown to the running pipeline's next cancellation
// check.
func SetupCLI(rootCmd *cobra.Command) {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(cmd)
			defer store.Close()
			tasks, err := store.ListTasks("")
			if err != nil {
				log.GetLogger().Errorf("Failed to list tasks: %v", err)
				os.Exit(1)
			}
			if len(tasks) == 0 {
				fmt.Println("No tasks found.")
				return
			}
			for _, t := range tasks {
				fmt.Printf("- %s  %-10s  %3d%%  %s  %s\n",
					t.ID, t.Status, t.Progress, t.CreatedAt.Format(time.RFC3339), t.Title)
			}
		},
	}

	getCmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(cmd)
			defer store.Close()
			t, err := store.GetTask(args[0], "")
			if err != nil {
				log.GetLogger().Errorf("Failed to get task %s: %v", args[0], err)
				os.Exit(1)
			}
			fmt.Printf("ID:        %s\nUser:      %s\nStatus:    %s\nProgress:  %d%%\nBranch:    %s\nTitle:     %s\nSandbox:   %s\nError:     %s\n",
				t.ID, t.UserID, t.Status, t.Progress, t.BranchName, t.Title, t.SandboxID, t.ErrorMsg)
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop [id]",
		Short: "Stop a processing task",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(cmd)
			defer store.Close()
			stopped, err := store.UpdateTaskStatusIf(args[0], models.StoppedTaskStatus,
				"Task stopped by operator", models.ProcessingTaskStatus)
			if err != nil {
				log.GetLogger().Errorf("Failed to stop task %s: %v", args[0], err)
				os.Exit(1)
			}
			if !stopped {
				fmt.Printf("Task %s is not processing\n", args[0])
				os.Exit(1)
			}
			fmt.Printf("Task %s stopped; the pipeline will clean up at its next checkpoint\n", args[0])
		},
	}

	rootCmd.AddCommand(listCmd, getCmd, stopCmd)
}

func initStore(cmd *cobra.Command) *internal_storage.PostgresStore {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil || dbConnStr == "" {
		dbConnStr, err = config.DatabaseURL()
		if err != nil {
			log.GetLogger().Errorf("Failed to resolve database connection: %v", err)
			os.Exit(1)
		}
	}
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}
