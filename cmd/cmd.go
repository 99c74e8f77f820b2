package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"

	"github.com/netra-systems/ws-fabric/config"
)

const (
	ServiceName      = "ws-fabric"
	ServiceNamespace = "netra-systems"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "WebSocket connection fabric for AI/agent backend sessions",
		Commands: []*cli.Command{
			serverCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the connection fabric",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the configuration file",
			},
			&cli.StringFlag{
				Name:  "listen_addr",
				Usage: "Address to listen for WebSocket and metrics traffic on",
			},
		},
		Action: func(c *cli.Context) error {
			flags := pflag.NewFlagSet(ServiceName, pflag.ContinueOnError)
			flags.String("listen_addr", c.String("listen_addr"), "address to listen on")

			cfg, err := config.Load(c.String("config_file"), flags, nil)
			if err != nil {
				return err
			}

			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return app.Stop(ctx)
		},
	}
}
