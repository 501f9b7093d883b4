package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newSummariesCmd() *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "summaries",
		Short: "List every stored summary version for a conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFromViper(false)
			if err != nil {
				return err
			}
			defer rt.Close()

			history, err := rt.arch.SummaryHistory(cmd.Context(), conversationID)
			if err != nil {
				return err
			}
			if len(history) == 0 {
				fmt.Fprintln(os.Stdout, "no summaries stored")
				return nil
			}

			encoded, err := json.MarshalIndent(history, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(encoded))
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id (required).")
	_ = cmd.MarkFlagRequired("conversation")

	return cmd
}
