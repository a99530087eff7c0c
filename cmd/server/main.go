package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"netpong/internal/config"
	"netpong/internal/log"
	"netpong/internal/netwrk"
	"netpong/internal/server"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logger logrus.FieldLogger = logrus.StandardLogger()

	configPath string
	port       int
	logLevel   string

	rootCmd = &cobra.Command{
		Use:          "pongd",
		Short:        "Runs an authoritative two player pong server.",
		SilenceUsage: true,
		RunE:         run,
	}
)

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "load config failed")
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	log.SetLogger(cfg.LogLevel)

	acceptor, err := netwrk.Listen(cfg.Addr(), cfg.AcceptQueue)
	if err != nil {
		return err
	}

	color.New(color.FgCyan, color.Bold).Println("Starting pong server...")
	color.New(color.FgGreen).Printf("Listening on %s, first to %d\n", acceptor.Addr(), cfg.WinScore+1)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return errors.Wrap(server.New(cfg, acceptor).Run(ctx), "run server failed")
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the JSON config file (default config.json)")
	rootCmd.Flags().IntVarP(&port, "port", "p", 10000, "TCP port to listen on")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "trace, debug, info, warn or error")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Fatal(errors.Wrap(err, "execute root command failed"))
	}
}
