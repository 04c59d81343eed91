package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/memforge/cmc/internal/cmc/service"
)

var (
	demoThreadID string
	demoChatFile string
	demoDiffFile string
	demoLogsFile string
	demoPurpose  string
	demoBudget   int
)

// demoCmd runs the full pipeline (ingest then build a working set) in one
// process, the only sequence that is meaningful given cmcd's per-invocation
// in-memory Memory Store: the ingest, recall, working-set, expand, and
// feedback subcommands are otherwise independent and do not see each
// other's items across separate invocations.
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Ingest material, then build a working set for a purpose, in one process",
	Example: `  cmcd demo --thread t1 --chat transcript.txt --purpose "fix the login bug" --budget 2000`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().StringVar(&demoThreadID, "thread", "demo", "thread id")
	demoCmd.Flags().StringVar(&demoChatFile, "chat", "", "path to a chat transcript file")
	demoCmd.Flags().StringVar(&demoDiffFile, "diff", "", "path to a unified diff file")
	demoCmd.Flags().StringVar(&demoLogsFile, "logs", "", "path to a log excerpt file")
	demoCmd.Flags().StringVar(&demoPurpose, "purpose", "", "purpose text for the working set (required)")
	demoCmd.Flags().IntVar(&demoBudget, "budget", 2000, "token budget")
	_ = demoCmd.MarkFlagRequired("purpose")
}

func runDemo(cmd *cobra.Command, args []string) error {
	chat, err := readMaterial(demoChatFile)
	if err != nil {
		return err
	}
	diffs, err := readMaterial(demoDiffFile)
	if err != nil {
		return err
	}
	logs, err := readMaterial(demoLogsFile)
	if err != nil {
		return err
	}

	svc, cleanup, err := buildService()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	ingestResult, err := svc.Ingest(ctx, flagWorkspaceID, demoThreadID, service.Materials{Chat: chat, Diffs: diffs, Logs: logs})
	if err != nil {
		return err
	}

	ws, err := svc.BuildWorkingSet(ctx, flagWorkspaceID, demoThreadID, demoPurpose, demoBudget, service.Filters{})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Ingest     service.IngestResult `json:"ingest"`
		WorkingSet any                  `json:"working_set"`
	}{Ingest: ingestResult, WorkingSet: ws})
}
