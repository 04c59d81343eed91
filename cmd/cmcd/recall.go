package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/memforge/cmc/internal/cmc/service"
)

var (
	recallThreadID    string
	recallPurpose     string
	recallTokenBudget int
	recallCrossThread bool
)

var recallCmd = &cobra.Command{
	Use:   "recall",
	Short: "Rank and return a flat, budget-trimmed item list for a purpose",
	Example: `  cmcd recall --thread t1 --purpose "fix the flaky login test" --budget 2000`,
	RunE: runRecall,
}

func init() {
	recallCmd.Flags().StringVar(&recallThreadID, "thread", "", "thread id (required)")
	recallCmd.Flags().StringVar(&recallPurpose, "purpose", "", "the purpose text to rank against (required)")
	recallCmd.Flags().IntVar(&recallTokenBudget, "budget", 2000, "token budget")
	recallCmd.Flags().BoolVar(&recallCrossThread, "cross-thread", false, "allow items from other threads in the workspace")
	_ = recallCmd.MarkFlagRequired("thread")
	_ = recallCmd.MarkFlagRequired("purpose")
}

func runRecall(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := buildService()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := svc.Recall(context.Background(), flagWorkspaceID, recallThreadID, recallPurpose, recallTokenBudget, service.Filters{
		CrossThread: recallCrossThread,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}
