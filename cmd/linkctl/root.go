package main

import (
	"fmt"
	"path/filepath"

	"github.com/danmuck/edgelink/internal/admin"
	"github.com/danmuck/edgelink/internal/config"
	"github.com/danmuck/edgelink/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var linkctlVersion = admin.Version

type rootOptions struct {
	settingsPath string
	settings     settings
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{settings: defaultSettings()}
	root := &cobra.Command{
		Use:           "linkctl",
		Short:         "Run reconnecting TCP and serial channels",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			if opts.settingsPath != "" {
				s, err := loadSettings(opts.settingsPath)
				if err != nil {
					return err
				}
				opts.settings = s
				zerolog.SetGlobalLevel(s.LogLevel)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.settingsPath, "settings", "", "linkctl settings file (TOML)")

	root.AddCommand(
		newRunCmd(opts),
		newQuickCmd(opts, config.KindServer),
		newQuickCmd(opts, config.KindClient),
		newQuickCmd(opts, config.KindSerial),
		newInitCmd(),
		newVersionCmd(),
	)
	return root
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the channel described by a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.Load(path)
			if err != nil {
				return err
			}
			return runChannel(cmd.Context(), f, opts.settings)
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "link.toml", "channel file (.toml, .yaml or .yml)")
	return cmd
}

// newQuickCmd runs a channel of kind from flags alone.
func newQuickCmd(opts *rootOptions, kind string) *cobra.Command {
	f := config.DefaultChannelFile()
	f.Mode = kind
	f.Name = "linkctl-" + kind
	if kind == config.KindServer {
		f.Host = "0.0.0.0"
	}
	cmd := &cobra.Command{
		Use:   kind,
		Short: fmt.Sprintf("Run a %s channel from flags", kind),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.Validate(); err != nil {
				return err
			}
			return runChannel(cmd.Context(), f, opts.settings)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.Name, "name", f.Name, "channel name")
	flags.StringVar(&f.Framing, "framing", f.Framing, "framed or raw")
	flags.Int64Var(&f.RequestTimeoutMS, "request-timeout-ms", f.RequestTimeoutMS, "default request timeout")
	flags.Int64Var(&f.IdleTimeoutMS, "idle-timeout-ms", f.IdleTimeoutMS, "drop the session after this much silence (0 disables)")
	switch kind {
	case config.KindServer:
		flags.StringVar(&f.Host, "host", f.Host, "bind host")
		flags.IntVar(&f.Port, "port", f.Port, "bind port (0 picks one)")
		flags.BoolVar(&f.BindRetry, "bind-retry", f.BindRetry, "retry a failed bind")
	case config.KindClient:
		flags.StringVar(&f.Host, "host", f.Host, "remote host")
		flags.IntVar(&f.Port, "port", f.Port, "remote port")
		flags.IntVar(&f.MaxRetries, "max-retries", f.MaxRetries, "connect retries before giving up (-1 forever)")
	case config.KindSerial:
		flags.StringVar(&f.Serial.Device, "device", f.Serial.Device, "serial device path")
		flags.IntVar(&f.Serial.BaudRate, "baud", f.Serial.BaudRate, "baud rate")
		flags.StringVar(&f.Serial.Parity, "parity", f.Serial.Parity, "none, odd, even, mark or space")
		flags.StringVar(&f.Serial.FlowControl, "flow", f.Serial.FlowControl, "none, software or hardware")
		flags.BoolVar(&f.Serial.ReopenOnError, "reopen", f.Serial.ReopenOnError, "reopen the device after an error")
	}
	return cmd
}

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:       "init <server|client|serial> [path]",
		Short:     "Write a starter channel file",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{config.KindServer, config.KindClient, config.KindSerial},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			path := kind + ".toml"
			if len(args) == 2 {
				path = args[1]
			}
			if err := config.WriteTemplate(path, kind, force); err != nil {
				return err
			}
			abs, _ := filepath.Abs(path)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s template to %s\n", kind, abs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the linkctl version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "linkctl version %s\n", linkctlVersion)
			return nil
		},
	}
}
