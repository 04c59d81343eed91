package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/memforge/cmc/internal/cmc/service"
)

var (
	ingestThreadID string
	ingestChatFile string
	ingestDiffFile string
	ingestLogsFile string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Extract and consolidate memory items from chat/diff/log material",
	Long: `Ingest reads raw material (chat transcript, unified diff, log excerpt),
redacts sensitive spans, extracts candidate items, and consolidates them
against the workspace's existing items.

Examples:
  cmcd ingest --thread t1 --chat transcript.txt
  cmcd ingest --thread t1 --diff change.patch --logs test-output.log`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestThreadID, "thread", "", "thread id (required)")
	ingestCmd.Flags().StringVar(&ingestChatFile, "chat", "", "path to a chat transcript file, or '-' for stdin")
	ingestCmd.Flags().StringVar(&ingestDiffFile, "diff", "", "path to a unified diff file")
	ingestCmd.Flags().StringVar(&ingestLogsFile, "logs", "", "path to a log excerpt file")
	_ = ingestCmd.MarkFlagRequired("thread")
}

func readMaterial(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	chat, err := readMaterial(ingestChatFile)
	if err != nil {
		return err
	}
	diffs, err := readMaterial(ingestDiffFile)
	if err != nil {
		return err
	}
	logs, err := readMaterial(ingestLogsFile)
	if err != nil {
		return err
	}

	svc, cleanup, err := buildService()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := svc.Ingest(context.Background(), flagWorkspaceID, ingestThreadID, service.Materials{
		Chat: chat, Diffs: diffs, Logs: logs,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
