package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/danmuck/meshctl/internal/config"
	"github.com/danmuck/meshctl/internal/logging"
	"github.com/spf13/cobra"
)

type cliOptions struct {
	configPath string
	radio      string
	logLevel   string
	noColor    bool

	cfg config.Config
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:   "meshctl",
		Short: "Talk to a mesh radio over its stream API",
		Long: `meshctl connects to a network-attached mesh radio, completes the
configuration handshake and then sends or receives on its behalf.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "config file; ignored when absent unless set explicitly")
	root.PersistentFlags().StringVar(&opts.radio, "radio", "", "radio host[:port], overrides the config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "trace, debug, info, warn, error or off")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable coloured output")

	root.AddCommand(
		newListenCmd(opts),
		newNodesCmd(opts),
		newInfoCmd(opts),
		newSendCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// load resolves the config file and flag overrides, then sets up logging.
func (o *cliOptions) load(cmd *cobra.Command) error {
	cfg := config.Default()
	explicit := cmd.Flags().Changed("config")
	if _, err := os.Stat(o.configPath); err == nil || explicit {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}
	if cmd.Flags().Changed("radio") {
		cfg.Radio = o.radio
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	level, ok := logging.ParseLevel(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	logging.ConfigureRuntimeLevel(level)
	setColor(!o.noColor)
	o.cfg = cfg
	return nil
}
