package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memforge/cmc/internal/cmc/model"
)

var (
	feedbackSignal    string
	feedbackMagnitude float64
	feedbackActor     string
	feedbackComment   string
	feedbackRelated   string
)

var feedbackCmd = &cobra.Command{
	Use:     "feedback <item-id>",
	Short:   "Apply a feedback signal, adjusting an item's salience",
	Args:    cobra.ExactArgs(1),
	Example: `  cmcd feedback S014 --signal helpful --magnitude 1 --actor agent-1`,
	RunE:    runFeedback,
}

func init() {
	feedbackCmd.Flags().StringVar(&feedbackSignal, "signal", "", "helpful|not_helpful|outdated|duplicate (required)")
	feedbackCmd.Flags().Float64Var(&feedbackMagnitude, "magnitude", 1, "signal strength in [-1,1]")
	feedbackCmd.Flags().StringVar(&feedbackActor, "actor", "", "who or what issued the feedback")
	feedbackCmd.Flags().StringVar(&feedbackComment, "comment", "", "optional free-text comment")
	feedbackCmd.Flags().StringVar(&feedbackRelated, "related-canonical", "", "canonical item id (duplicate signal only)")
	_ = feedbackCmd.MarkFlagRequired("signal")
}

func runFeedback(cmd *cobra.Command, args []string) error {
	signal := model.FeedbackSignal(feedbackSignal)
	switch signal {
	case model.SignalHelpful, model.SignalNotHelpful, model.SignalOutdated, model.SignalDuplicate:
	default:
		return fmt.Errorf("cmcd: unknown --signal %q", feedbackSignal)
	}

	svc, cleanup, err := buildService()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := svc.Feedback(context.Background(), flagWorkspaceID, args[0], signal, feedbackMagnitude, feedbackActor, feedbackComment, feedbackRelated)
	if err != nil {
		return err
	}
	return printJSON(result)
}
