package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/analysis"
	"github.com/xkilldash9x/bitesense/internal/config"
	"github.com/xkilldash9x/bitesense/internal/imageprep"
	"github.com/xkilldash9x/bitesense/internal/observability"
)

type analyzeOptions struct {
	Mode      config.Mode
	Streaming bool
	JSON      bool
}

// newAnalyzeCmd creates the `analyze` command.
func newAnalyzeCmd(provider componentProvider) *cobra.Command {
	var (
		mode     string
		noStream bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Identifies the insect behind a bite photo and saves the analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}

			opts := analyzeOptions{
				Mode:      cfg.Analysis.DefaultMode,
				Streaming: cfg.Analysis.Streaming && !noStream,
				JSON:      asJSON,
			}
			if mode != "" {
				if opts.Mode, err = config.ParseMode(mode); err != nil {
					return err
				}
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}

			c, err := provider(ctx, cfg, true)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer c.Shutdown()

			if cfg.Analysis.RunTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.Analysis.RunTimeout)
				defer cancel()
			}
			return runAnalyze(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), c, data, opts)
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Detection mode: 'local' or 'network' (default from config)")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Wait for the complete analysis instead of streaming progress")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the saved record as JSON")
	return cmd
}

// runAnalyze prepares the image, runs one analysis and prints the result.
// Progress goes to errOut so stdout carries only the result.
func runAnalyze(ctx context.Context, out, errOut io.Writer, c *components, data []byte, opts analyzeOptions) error {
	logger := observability.GetLogger()

	img, err := c.Prep.Prepare(data)
	if err != nil {
		if errors.Is(err, imageprep.ErrUnsupportedFormat) {
			return fmt.Errorf("the file is not a supported image: %w", err)
		}
		return err
	}

	runOpts := analysis.RunOptions{
		Mode: opts.Mode,
		OnInsectDetected: func(insectType string) {
			if insectType != schemas.NoBites {
				fmt.Fprintf(errOut, "Detected: %s\n", schemas.DisplayName(insectType))
			}
		},
	}
	if opts.Streaming {
		last := ""
		runOpts.OnPartialUpdate = func(p schemas.PartialAnalysis) {
			if line := progressLine(p); line != last {
				fmt.Fprintln(errOut, line)
				last = line
			}
		}
	}

	outcome := c.Analyzer.Analyze(ctx, img, runOpts)
	switch outcome.Status {
	case analysis.StatusCompleted:
		if outcome.SaveErr != nil {
			logger.Warn("Analysis was not saved", zap.Error(outcome.SaveErr))
			fmt.Fprintf(errOut, "Warning: %s\n", analysis.MsgSaveFailed)
		}
		if opts.JSON {
			if outcome.Record != nil {
				return printJSON(out, outcome.Record)
			}
			return printJSON(out, outcome.Analysis)
		}
		if outcome.Record != nil {
			printRecordHeader(out, *outcome.Record)
		}
		printAnalysis(out, *outcome.Analysis)
		return nil
	case analysis.StatusNoBites:
		fmt.Fprintln(out, "No insect bite was found in this image.")
		return nil
	case analysis.StatusCanceled:
		return outcome.Err
	default:
		if outcome.Err == nil {
			return errors.New(outcome.Message)
		}
		return fmt.Errorf("%s: %w", outcome.Message, outcome.Err)
	}
}
