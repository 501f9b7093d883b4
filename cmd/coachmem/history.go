package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/athlete-space/coachmem/internal/clifmt"
)

func newHistoryCmd() *cobra.Command {
	var (
		conversationID string
		limit          int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the conversation's working-memory history",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFromViper(false)
			if err != nil {
				return err
			}
			defer rt.Close()

			messages := rt.pipeline.History(cmd.Context(), conversationID, limit)
			clifmt.PrintMessageTable(os.Stdout, "History "+conversationID, messages)
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id (required).")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max messages to show (0 = full window).")
	_ = cmd.MarkFlagRequired("conversation")

	return cmd
}
