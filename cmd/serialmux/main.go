package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/serialmux/serialmux/internal/config"
	"github.com/serialmux/serialmux/internal/logging"
	"github.com/serialmux/serialmux/internal/mux"
)

const version = "0.1.0"

var (
	verbose    bool
	configPath string
	devicePath string
	baudRate   int
	portPaths  []string
)

var rootCmd = &cobra.Command{
	Use:   "serialmux",
	Short: "Serial port multiplexer",
	Long: `serialmux shares one physical serial device across multiple virtual
ports. Each virtual port is a stable /dev symlink backed by a PTY pair;
independent programs open the symlinks as if each owned the device, while
serialmux broadcasts device output to every attached client and merges
client input into the single device stream.

The daemon runs unattended: it retries an absent device every 2 seconds
and recreates any virtual port whose PTY pair fails, always at the same
path. Only SIGINT/SIGTERM (clean exit) or an invalid configuration
(non-zero exit) end the process.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runMux,
}

func init() {
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable logging output")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.Flags().StringVarP(&devicePath, "device", "d", "", "Physical serial device path")
	rootCmd.Flags().IntVarP(&baudRate, "baud", "b", 0, "Baud rate (default 115200)")
	rootCmd.Flags().StringArrayVarP(&portPaths, "port", "p", nil, "Virtual port symlink path (repeatable)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "serialmux: %v\n", err)
		os.Exit(1)
	}
}

func runMux(cmd *cobra.Command, args []string) error {
	logging.SetVerbose(verbose)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if devicePath != "" {
		cfg.Device = devicePath
	}
	if baudRate != 0 {
		cfg.Baud = baudRate
	}
	if len(portPaths) > 0 {
		cfg.Ports = portPaths
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Detach stdin so the client-facing PTY fds never collide with the
	// controlling terminal.
	if err := detachStdin(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := mux.New(cfg)
	if err != nil {
		return err
	}
	return m.Run(ctx)
}

func detachStdin() error {
	devnull, err := unix.Open(os.DevNull, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer unix.Close(devnull)
	if err := unix.Dup3(devnull, 0, 0); err != nil {
		return fmt.Errorf("detach stdin: %w", err)
	}
	return nil
}
