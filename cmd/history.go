package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/history"
)

// historyStore is the part of the history the commands use.
type historyStore interface {
	List(ctx context.Context) ([]schemas.BiteRecord, error)
	Get(ctx context.Context, id string) (schemas.BiteRecord, error)
	Clear(ctx context.Context) error
}

// newHistoryCmd creates the `history` command group.
func newHistoryCmd(provider componentProvider) *cobra.Command {
	var asJSON bool

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Lists, shows and clears saved bite analyses",
	}
	historyCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print records as JSON")

	// withStore runs fn against a history store opened from the loaded config.
	withStore := func(cmd *cobra.Command, fn func(ctx context.Context, store historyStore) error) error {
		ctx := cmd.Context()
		cfg, err := configFromContext(ctx)
		if err != nil {
			return err
		}
		c, err := provider(ctx, cfg, false)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer c.Shutdown()
		return fn(ctx, c.History)
	}

	historyCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Lists saved analyses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store historyStore) error {
				return runHistoryList(ctx, cmd.OutOrStdout(), store, asJSON)
			})
		},
	})
	historyCmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Shows one saved analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store historyStore) error {
				return runHistoryShow(ctx, cmd.OutOrStdout(), store, args[0], asJSON)
			})
		},
	})
	historyCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Deletes every saved analysis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store historyStore) error {
				if err := store.Clear(ctx); err != nil {
					return fmt.Errorf("failed to clear history: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Bite history cleared.")
				return nil
			})
		},
	})
	return historyCmd
}

func runHistoryList(ctx context.Context, out io.Writer, store historyStore, asJSON bool) error {
	records, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	if asJSON {
		if records == nil {
			records = []schemas.BiteRecord{}
		}
		return printJSON(out, records)
	}
	printHistory(out, records)
	return nil
}

func runHistoryShow(ctx context.Context, out io.Writer, store historyStore, id string, asJSON bool) error {
	rec, err := store.Get(ctx, id)
	if errors.Is(err, history.ErrNotFound) {
		return fmt.Errorf("no bite record with id %q", id)
	}
	if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}
	if asJSON {
		return printJSON(out, rec)
	}
	printRecordHeader(out, rec)
	printAnalysis(out, rec.Analysis)
	return nil
}
