// devicesim - remote-controlled mouse and keyboard input synthesizer
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"devicesim/internal/config"
	"devicesim/internal/logging"
)

var (
	version   = "0.1.0"
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool

	cfgMgr *config.Manager
)

var rootCmd = &cobra.Command{
	Use:   "devicesim",
	Short: "Synthesize mouse and keyboard input",
	Long: `devicesim injects pointer and keyboard events into the host input stream,
either directly from the command line or on behalf of remote clients (serve).`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("devicesim v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is devicesim.yaml in the user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console or json")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "log events instead of injecting them")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(localCommands()...)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(remoteCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(autostartCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration, applies flag overrides and initializes logging
func setup(cmd *cobra.Command, args []string) error {
	mgr, err := config.NewManager(cfgFile, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	if err := mgr.Load(); err != nil {
		return fmt.Errorf("failed to load config %s: %w", mgr.Path(), err)
	}

	cfg := mgr.Get()
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if dryRun {
		cfg.DryRun.Enabled = true
	}
	verrs := mgr.Set(cfg)

	cfg = mgr.Get()
	logging.Init(cfg.Log.Format, cfg.Log.Level, os.Stderr)
	for _, verr := range verrs {
		logging.L("config").Warn("config value adjusted", zap.Error(verr))
	}

	cfgMgr = mgr
	return nil
}
