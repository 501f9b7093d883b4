package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/athlete-space/coachmem/internal/chatmsg"
)

func newAppendCmd() *cobra.Command {
	var (
		conversationID string
		userID         string
		role           string
		fields         []string
	)

	cmd := &cobra.Command{
		Use:   "append [text]",
		Short: "Normalize a message and store it in conversation memory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := rawInputFrom(args, fields)
			if err != nil {
				return err
			}

			rt, err := runtimeFromViper(true)
			if err != nil {
				return err
			}
			defer rt.Close()

			msg, err := rt.pipeline.NormalizeAndStore(cmd.Context(), raw, conversationID, userID, role)
			if err != nil {
				return err
			}

			encoded, err := json.MarshalIndent(msg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(encoded))
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id (required).")
	cmd.Flags().StringVar(&userID, "user", "", "User id (required).")
	cmd.Flags().StringVar(&role, "role", "", "Role override: user|assistant|system (defaults to user).")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "Structured key=value field (repeatable; replaces the text argument).")
	_ = cmd.MarkFlagRequired("conversation")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func rawInputFrom(args, fields []string) (chatmsg.RawInput, error) {
	if len(fields) > 0 {
		parsed := make(map[string]string, len(fields))
		for _, field := range fields {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				return chatmsg.RawInput{}, fmt.Errorf("field %q is not key=value", field)
			}
			parsed[strings.TrimSpace(key)] = value
		}
		return chatmsg.FieldsInput(parsed), nil
	}
	if len(args) == 1 {
		return chatmsg.TextInput(args[0]), nil
	}
	return chatmsg.RawInput{}, fmt.Errorf("provide message text or at least one --field")
}
