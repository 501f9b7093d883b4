package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/athlete-space/coachmem/internal/chatmsg"
	"github.com/athlete-space/coachmem/internal/configutil"
)

func newPromptCmd() *cobra.Command {
	var (
		conversationID string
		userID         string
		systemPrompt   string
	)

	cmd := &cobra.Command{
		Use:   "prompt <text>",
		Short: "Store a user message and print the assembled model prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if budget := configutil.FlagOrViperInt(cmd, "prompt-budget", "tokens.per_prompt_max"); budget > 0 {
				viper.Set("tokens.per_prompt_max", budget)
			}

			rt, err := runtimeFromViper(true)
			if err != nil {
				return err
			}
			defer rt.Close()

			msg, err := rt.pipeline.NormalizeAndStore(cmd.Context(), chatmsg.TextInput(args[0]), conversationID, userID, "")
			if err != nil {
				return err
			}
			prompt, err := rt.pipeline.BuildPrompt(cmd.Context(), conversationID, msg, systemPrompt)
			if err != nil {
				return err
			}

			encoded, err := json.MarshalIndent(prompt, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(encoded))
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id (required).")
	cmd.Flags().StringVar(&userID, "user", "", "User id (required).")
	cmd.Flags().StringVar(&systemPrompt, "system", "You are a precise, supportive running coach.", "System prompt.")
	cmd.Flags().Int("prompt-budget", 0, "Per-prompt token budget override.")
	_ = cmd.MarkFlagRequired("conversation")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
