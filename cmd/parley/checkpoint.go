package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Manage persisted checkpoints",
	Long:  `List, inspect, and remove the checkpoints of workflow instances in the configured store.`,
}

var checkpointLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all stored workflow instances",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustSetup(cmd)
		defer a.Close()

		ids, err := a.store.List(cmd.Context())
		if err != nil {
			fmt.Printf("Error listing checkpoints: %v\n", err)
			os.Exit(1)
		}

		if len(ids) == 0 {
			fmt.Println("No checkpoints found.")
			return
		}

		fmt.Println("Workflow instances:")
		for _, id := range ids {
			cp, err := a.store.Load(cmd.Context(), id)
			if err != nil {
				fmt.Printf("- %s (unreadable: %v)\n", id, err)
				continue
			}
			fmt.Printf("- %s (%d sessions, %d tombstones)\n", id, len(cp.Sessions), len(cp.Tombstones))
		}
	},
}

var checkpointInspectCmd = &cobra.Command{
	Use:   "inspect <workflow-id> [session-id]",
	Short: "Inspect a checkpoint or one of its sessions",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustSetup(cmd)
		defer a.Close()

		workflowID := args[0]
		cp, err := a.store.Load(cmd.Context(), workflowID)
		if err != nil {
			fmt.Printf("Error loading checkpoint '%s': %v\n", workflowID, err)
			os.Exit(1)
		}

		var v any = cp
		if len(args) == 2 {
			s, ok := cp.Session(args[1])
			if !ok {
				fmt.Printf("Session '%s' not found in '%s'\n", args[1], workflowID)
				os.Exit(1)
			}
			v = s
		}

		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Printf("Error marshaling checkpoint: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
	},
}

var checkpointRmCmd = &cobra.Command{
	Use:   "rm <workflow-id>...",
	Short: "Remove one or more checkpoints",
	Args: func(cmd *cobra.Command, args []string) error {
		if all, _ := cmd.Flags().GetBool("all"); all {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	Run: func(cmd *cobra.Command, args []string) {
		a := mustSetup(cmd)
		defer a.Close()

		if all, _ := cmd.Flags().GetBool("all"); all {
			ids, err := a.store.List(cmd.Context())
			if err != nil {
				fmt.Printf("Error listing checkpoints: %v\n", err)
				os.Exit(1)
			}
			args = ids
		}

		hasError := false
		for _, id := range args {
			if err := a.store.Delete(cmd.Context(), id); err != nil {
				fmt.Printf("Error removing '%s': %v\n", id, err)
				hasError = true
			} else {
				fmt.Printf("Removed checkpoint '%s'\n", id)
			}
		}

		if hasError {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointLsCmd)
	checkpointCmd.AddCommand(checkpointInspectCmd)
	checkpointCmd.AddCommand(checkpointRmCmd)
	checkpointRmCmd.Flags().Bool("all", false, "Remove every checkpoint in the store")
}
