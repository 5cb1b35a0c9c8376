package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/exobrain/taskdaemon/internal/config"
	"github.com/exobrain/taskdaemon/internal/daemon"
	"github.com/exobrain/taskdaemon/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	configPath := flag.String("config", config.GetConfigPath(), "Path to config file")
	transportName := flag.String("transport", "", "Transport to serve on (unix, pipe, http or auto)")
	socketPath := flag.String("socket-path", "", "Unix socket path")
	pipeName := flag.String("pipe-name", "", "Windows named pipe name")
	host := flag.String("host", "", "HTTP listen host")
	port := flag.Int("port", 0, "HTTP listen port")
	storagePath := flag.String("storage-path", "", "Task storage directory")
	pidFilePath := flag.String("pid-file", "", "PID file path")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error, none)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Flags override the config file.
	if *transportName != "" {
		cfg.Transport = *transportName
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}
	if *pipeName != "" {
		cfg.PipeName = *pipeName
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *storagePath != "" {
		cfg.StoragePath = *storagePath
	}
	if *pidFilePath != "" {
		cfg.PidFilePath = *pidFilePath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logger: %v\n", initErr)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
