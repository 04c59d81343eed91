package main

import (
	"context"

	"github.com/spf13/cobra"
)

var expandForm string

var expandCmd = &cobra.Command{
	Use:     "expand <item-id>",
	Short:   "Return an item's summary, or its full record plus source text",
	Args:    cobra.ExactArgs(1),
	Example: `  cmcd expand S014 --form full`,
	RunE:    runExpand,
}

func init() {
	expandCmd.Flags().StringVar(&expandForm, "form", "summary", `"summary" or "full"`)
}

func runExpand(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := buildService()
	if err != nil {
		return err
	}
	defer cleanup()

	item, text, err := svc.Expand(context.Background(), flagWorkspaceID, args[0], expandForm)
	if err != nil {
		return err
	}
	return printJSON(struct {
		Item any    `json:"item"`
		Text string `json:"text"`
	}{Item: item, Text: text})
}
