// Package worker implements the command running the indexing scheduler and
// its worker pool without the HTTP boundary, for deployments that split
// serving from ingestion.
package worker

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/MODSetter/SurfSense-sub000/internal/app"
	"github.com/MODSetter/SurfSense-sub000/internal/config"
)

type Command struct {
	UI  cli.Ui
	Log hclog.Logger

	flagConfig string
}

func (c *Command) Synopsis() string {
	return "Run the connector indexing worker"
}

func (c *Command) Help() string {
	return `Usage: surfsense worker -config=config.hcl

  Runs periodic connector indexing and serves queued runs. No HTTP
  endpoints are exposed; pair it with a serve process.

Options:

  -config=<path>  Path to the HCL configuration file (default "config.hcl").
`
}

func (c *Command) flags() *flag.FlagSet {
	f := flag.NewFlagSet("worker", flag.ContinueOnError)
	f.StringVar(&c.flagConfig, "config", "config.hcl", "Path to configuration file")
	f.SetOutput(os.Stderr)
	return f
}

func (c *Command) Run(args []string) int {
	if err := c.flags().Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(c.flagConfig)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error loading configuration: %v", err))
		return 1
	}

	a, err := app.Build(cfg, c.Log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error building application: %v", err))
		return 1
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Scheduler.Start(ctx); err != nil {
		c.UI.Error(fmt.Sprintf("error starting scheduler: %v", err))
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	sig := <-sigCh
	c.Log.Info("received signal, shutting down", "signal", sig)

	cancel()
	if err := a.Scheduler.Stop(); err != nil {
		c.Log.Warn("scheduler shutdown", "error", err)
	}

	c.Log.Info("worker stopped gracefully")
	return 0
}
