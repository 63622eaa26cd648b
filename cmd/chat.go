package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/bitesense/internal/analysis"
	"github.com/xkilldash9x/bitesense/internal/chat"
)

// newChatCmd creates the `chat` command.
func newChatCmd(provider componentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <id>",
		Short: "Asks follow-up questions about a saved analysis",
		Long:  "Opens a conversation about a saved bite analysis. Type 'exit' or press Ctrl+D to leave.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			c, err := provider(ctx, cfg, true)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer c.Shutdown()
			return runChat(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), c, args[0])
		},
	}
}

// runChat reads one question per line and streams each answer as it arrives.
func runChat(ctx context.Context, in io.Reader, out io.Writer, c *components, recordID string) error {
	outcome, err := c.Analyzer.Open(ctx, recordID)
	if errors.Is(err, analysis.ErrRecordNotFound) {
		return fmt.Errorf("no bite record with id %q", recordID)
	}
	if err != nil {
		return err
	}

	conv := chat.NewConversation(outcome.Record)
	fmt.Fprintf(out, "Assistant: %s\n", conv.Messages[0].Text)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		fmt.Fprint(out, "Assistant: ")
		_, err := c.Chat.Send(ctx, conv, line, func(fragment string) {
			fmt.Fprint(out, fragment)
		})
		fmt.Fprintln(out)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The conversation already carries the apology; keep going.
			fmt.Fprintln(out, chat.ErrorReply)
		}
	}
	return scanner.Err()
}
