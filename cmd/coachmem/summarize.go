package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/athlete-space/coachmem/internal/configutil"
)

func newSummarizeCmd() *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Run one summarize-and-compact cycle for a conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if model := configutil.FlagOrViperString(cmd, "model", "llm.model"); model != "" {
				viper.Set("llm.model", model)
			}
			if timeout := configutil.FlagOrViperDuration(cmd, "timeout", "llm.request_timeout"); timeout > 0 {
				viper.Set("llm.request_timeout", timeout)
			}

			rt, err := runtimeFromViper(true)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.pipeline.Summarize(cmd.Context(), conversationID); err != nil {
				return err
			}

			encoded, err := json.MarshalIndent(rt.counters.Snapshot(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(encoded))
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id (required).")
	cmd.Flags().String("model", "", "Summarizer model override.")
	cmd.Flags().Duration("timeout", 0, "Model request timeout override.")
	_ = cmd.MarkFlagRequired("conversation")

	return cmd
}
