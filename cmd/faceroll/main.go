package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrCodeEU/faceroll/pkg/config"
	"github.com/MrCodeEU/faceroll/pkg/logging"
	"github.com/spf13/cobra"
)

// Build metadata, set by -ldflags at compile time.
var (
	version   = "0.1.0"
	commitSHA = "unknown"
)

var (
	cfgFile string
	debug   bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "faceroll",
	Short: "Face recognition roll call from a local camera",
	Long: `faceroll loads face models, watches a camera and matches the faces it sees
against a roster of enrolled people.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// initEnv loads an optional .env file before flags are acted on.
func initEnv() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env: %v\n", err)
	}
}

// loadConfig reads path, or the default locations when path is empty, and
// applies environment overrides.
func loadConfig(path string) (*config.Config, error) {
	var (
		c   *config.Config
		err error
	)
	if path != "" {
		c, err = config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	} else {
		c, err = config.LoadDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
			c = config.DefaultConfig()
		}
	}

	c.ApplyEnv()
	c.ExpandPaths()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = loadConfig(cfgFile)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	if err := logging.Init(level, cfg.Logging.Format, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	logging.Debugf("faceroll v%s starting", version)
	logging.Debugf("Config loaded, roster dir: %s", cfg.Roster.DataDir)
	return nil
}
