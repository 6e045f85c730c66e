package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	tusk "github.com/willibrandon/tusk-sub004"
	"github.com/willibrandon/tusk-sub004/internal"
	"github.com/willibrandon/tusk-sub004/internal/logger"
)

type cmdServer struct {
	flagConfig string
}

func (c *cmdServer) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "tusk-server"
	cmd.Short = "Serve the query engine over tuskwire"
	cmd.Long = `Description:
  Serve the query engine over tuskwire

  Connections, executor defaults and the history file come from the YAML
  config file. Every key can be overridden with a TUSK_* environment
  variable, e.g. TUSK_SERVER_ADDR.
`
	cmd.SilenceUsage = true
	cmd.CompletionOptions = cobra.CompletionOptions{DisableDefaultCmd: true}
	cmd.Args = cobra.NoArgs
	cmd.RunE = c.Run

	cmd.Flags().StringVarP(&c.flagConfig, "config", "c", "", "Path to the YAML config file")
	cmd.Flags().String("addr", "", "Listen address, overrides server.addr")
	cmd.Flags().String("log-level", "", "Log level, overrides log.level")
	cmd.Flags().Bool("log-json", false, "Log as JSON, overrides log.json")
	cmd.Flags().String("history", "", "History file, overrides history.path")

	return cmd
}

func (c *cmdServer) Run(cmd *cobra.Command, args []string) error {
	cfg, err := internal.LoadConfigWithFlags(c.flagConfig, cmd.Flags())
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := tusk.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer engine.Close()

	err = engine.Server().ListenAndServe(ctx, cfg.Server.Addr)
	log.Info("tusk-server: shutting down")
	return err
}

func main() {
	server := cmdServer{}
	if err := server.Command().Execute(); err != nil {
		os.Exit(1)
	}
}
