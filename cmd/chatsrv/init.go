package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wtask/chatrelay/internal/chat"
	"github.com/wtask/chatrelay/internal/chat/protocol"
	"github.com/wtask/chatrelay/pkg/semver"
)

type (
	// Configuration - server configuration
	Configuration struct {
		// Host - bind the address
		Host string
		// Port - bind the port
		Port int
		// CertFile, KeyFile - PEM encoded TLS certificate and private key, both or none
		CertFile, KeyFile string
		// RegisterTimeout - period to receive registration from a new connection
		RegisterTimeout time.Duration
		// ReadTimeout - polling interval of registered client reads
		ReadTimeout time.Duration
		// WriteTimeout - limit of a single frame write
		WriteTimeout time.Duration
		// ShutdownTimeout - period to wait for sessions on stop
		ShutdownTimeout time.Duration
		// MaxFrame - frame size limit in bytes
		MaxFrame int
		// WebSocketAddr - address of WebSocket endpoint, empty to disable
		WebSocketAddr string
		// MetricsAddr - address of Prometheus endpoint, empty to disable
		MetricsAddr string
		// LogLevel - minimal level of log records
		LogLevel string
		// LogDev - human friendly console logs
		LogDev bool
	}
)

var (
	// DefaultConfig - configuration used when flags are omitted
	DefaultConfig = Configuration{
		Host:            "127.0.0.1",
		Port:            5050,
		RegisterTimeout: chat.DefaultTimeout,
		ReadTimeout:     chat.DefaultTimeout,
		WriteTimeout:    chat.DefaultTimeout,
		ShutdownTimeout: 10 * time.Second,
		MaxFrame:        protocol.MaxFrameSize,
		LogLevel:        "info",
	}

	// BinaryName - name of run application binary
	BinaryName = strings.TrimSuffix(filepath.Base(os.Args[0]), filepath.Ext(os.Args[0]))

	// Version - app version fingerprint
	Version = semver.V{Major: 1, Minor: 0, Patch: 0}.String()

	errConfig = errors.New("invalid configuration")
)

// Address - TCP address to listen.
func (c Configuration) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate - checks configuration before anything is started.
func (c Configuration) Validate() error {
	switch {
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("%w: port value should be in range 1..65535, got %d", errConfig, c.Port)
	case c.RegisterTimeout <= 0:
		return fmt.Errorf("%w: register-timeout value should be positive", errConfig)
	case c.ReadTimeout <= 0:
		return fmt.Errorf("%w: read-timeout value should be positive", errConfig)
	case c.WriteTimeout <= 0:
		return fmt.Errorf("%w: write-timeout value should be positive", errConfig)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: shutdown-timeout value should be positive", errConfig)
	case c.MaxFrame < chat.MinFrameSize:
		return fmt.Errorf("%w: max-frame value should be at least %d", errConfig, chat.MinFrameSize)
	case (c.CertFile == "") != (c.KeyFile == ""):
		return fmt.Errorf("%w: cert and key should be given together", errConfig)
	}
	return nil
}

func bindFlags(flags *pflag.FlagSet, c *Configuration) {
	flags.StringVar(&c.Host, "host", c.Host, "Listen address")
	flags.IntVar(&c.Port, "port", c.Port, "Listen port")
	flags.StringVar(&c.CertFile, "cert", c.CertFile, "TLS certificate file (PEM), requires --key")
	flags.StringVar(&c.KeyFile, "key", c.KeyFile, "TLS private key file (PEM), requires --cert")
	flags.DurationVar(&c.RegisterTimeout, "register-timeout", c.RegisterTimeout, "Period to receive registration from a new connection")
	flags.DurationVar(&c.ReadTimeout, "read-timeout", c.ReadTimeout, "Polling interval of registered client reads")
	flags.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "Limit of a single frame write")
	flags.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "Period to wait for sessions on stop")
	flags.IntVar(&c.MaxFrame, "max-frame", c.MaxFrame, "Frame size limit in bytes, line terminator excluded")
	flags.StringVar(&c.WebSocketAddr, "ws-addr", c.WebSocketAddr, "WebSocket endpoint address, e.g. :8080 (disabled if empty)")
	flags.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Prometheus endpoint address, e.g. :9090 (disabled if empty)")
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn, error")
	flags.BoolVar(&c.LogDev, "log-dev", c.LogDev, "Human friendly console logs")
}

// newRootCommand - builds CLI, run is called with validated configuration.
func newRootCommand(run func(ctx context.Context, config Configuration) error) *cobra.Command {
	config := DefaultConfig
	cmd := &cobra.Command{
		Use:           BinaryName,
		Short:         "Launch chat relay server over TCP",
		Long:          "Launch multi-user chat relay server, exchanging newline-delimited JSON frames over TCP (optionally TLS).\nPress Ctrl-C to stop.",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), config)
		},
	}
	bindFlags(cmd.Flags(), &config)
	return cmd
}
