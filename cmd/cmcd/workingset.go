package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/memforge/cmc/internal/cmc/service"
)

var (
	wsThreadID    string
	wsPurpose     string
	wsTokenBudget int
	wsCrossThread bool
)

var workingSetCmd = &cobra.Command{
	Use:     "working-set",
	Short:   "Build a structured, cited working set for a purpose",
	Example: `  cmcd working-set --thread t1 --purpose "plan the auth refactor" --budget 3000`,
	RunE:    runWorkingSet,
}

func init() {
	workingSetCmd.Flags().StringVar(&wsThreadID, "thread", "", "thread id (required)")
	workingSetCmd.Flags().StringVar(&wsPurpose, "purpose", "", "the purpose text to build the working set for (required)")
	workingSetCmd.Flags().IntVar(&wsTokenBudget, "budget", 3000, "token budget")
	workingSetCmd.Flags().BoolVar(&wsCrossThread, "cross-thread", false, "allow items from other threads in the workspace")
	_ = workingSetCmd.MarkFlagRequired("thread")
	_ = workingSetCmd.MarkFlagRequired("purpose")
}

func runWorkingSet(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := buildService()
	if err != nil {
		return err
	}
	defer cleanup()

	ws, err := svc.BuildWorkingSet(context.Background(), flagWorkspaceID, wsThreadID, wsPurpose, wsTokenBudget, service.Filters{
		CrossThread: wsCrossThread,
	})
	if err != nil {
		return err
	}
	return printJSON(ws)
}
