package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/batchupload/internal/core"
	"github.com/JonMunkholm/batchupload/internal/retriever"
)

// globalOptions are the flags shared by every input source.
type globalOptions struct {
	url        string
	username   string
	password   string
	configPath string
	batchID    string
	dryRun     bool
	logLevel   string
}

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err == nil {
		slog.Debug("loaded .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("upload failed", "error", err)
		if msg := core.FormatUserError(err); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalOptions

	root := &cobra.Command{
		Use:           "batchupload",
		Short:         "Bulk upload layers and loss sets to Analyze Re",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.url, "url", "", "Analyze Re server URL (overrides [server] base_url)")
	pf.StringVar(&g.username, "username", "", "Analyze Re username")
	pf.StringVar(&g.password, "password", "", "Analyze Re password")
	pf.StringVar(&g.configPath, "config", "", "path to the INI configuration file")
	pf.StringVar(&g.batchID, "batch-id", "", "batch identifier (default: six random letters)")
	pf.BoolVar(&g.dryRun, "dry-run", false, "upload to an in-process platform instead of the server")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(newCSVCmd(&g), newSQLCmd(&g))
	return root
}

func newCSVCmd(g *globalOptions) *cobra.Command {
	var layers, elt, yelt, ylt string

	cmd := &cobra.Command{
		Use:   "csv",
		Short: "Upload layers and losses read from CSV files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := retriever.Options{LayersPath: layers}
			switch {
			case elt != "":
				opts.LossType, opts.LossesPath = core.LossELT, elt
			case yelt != "":
				opts.LossType, opts.LossesPath = core.LossYELT, yelt
			default:
				opts.LossType, opts.LossesPath = core.LossYLT, ylt
			}
			return run(cmd.Context(), *g, retriever.SourceCSV, opts)
		},
	}

	cmd.Flags().StringVar(&layers, "layers", "", "layer terms CSV (required)")
	cmd.Flags().StringVar(&elt, "elt", "", "ELT losses CSV")
	cmd.Flags().StringVar(&yelt, "yelt", "", "YELT losses CSV")
	cmd.Flags().StringVar(&ylt, "ylt", "", "YLT losses CSV")

	_ = cmd.MarkFlagRequired("layers")
	cmd.MarkFlagsMutuallyExclusive("elt", "yelt", "ylt")
	cmd.MarkFlagsOneRequired("elt", "yelt", "ylt")

	return cmd
}

func newSQLCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sql",
		Short: "Upload layers and losses read with the [sql] queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), *g, retriever.SourceSQL, retriever.Options{})
		},
	}
}

const batchIDLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// newBatchID returns six random upper-case letters.
func newBatchID() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = batchIDLetters[rand.Intn(len(batchIDLetters))]
	}
	return string(b)
}
