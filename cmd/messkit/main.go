// Command messkit hosts MESS creative units for editors and agents, and
// inspects the traces they leave behind.
package main

import (
	"fmt"
	"os"

	"messkit/internal/config"
	"messkit/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath   string
	workspaceDir string
	noWorkspace  bool
	verbose      bool

	cfg    config.Config
	wsDir  string
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "messkit",
		Short: "messkit - MESS creative unit harness",
		Long: `messkit hosts MESS creative units behind emulated host windows.

Units negotiate their mode (live, editor-style, editor-dev, props) exactly as
they would inside an editor or a publisher page. Every unit event becomes a
Mangle fact and, when recording is enabled, a JSONL trace line.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["config"] == "skip" {
				return nil
			}
			cfg, wsDir, err := config.LoadWithWorkspace(opts.configPath, config.WorkspaceOptions{
				Disable:     opts.noWorkspace,
				ExplicitDir: opts.workspaceDir,
			})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.verbose {
				cfg.Logging.Level = "debug"
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			opts.cfg, opts.wsDir, opts.logger = cfg, wsDir, logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a config file layered over the workspace config")
	flags.StringVar(&opts.workspaceDir, "workspace-dir", "", "Use this directory as the workspace root instead of searching upward")
	flags.BoolVar(&opts.noWorkspace, "no-workspace", false, "Ignore any .messkit workspace")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newInspectCmd(opts),
		newBeaconCmd(opts),
		newInitCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
