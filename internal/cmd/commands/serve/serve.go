// Package serve implements the command running the full service: HTTP
// boundary, scheduler and worker pool in one process.
package serve

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/MODSetter/SurfSense-sub000/internal/api"
	"github.com/MODSetter/SurfSense-sub000/internal/app"
	"github.com/MODSetter/SurfSense-sub000/internal/config"
	"github.com/MODSetter/SurfSense-sub000/internal/server"
)

const defaultAddr = ":8000"

// shutdownGrace bounds how long in-flight requests may finish.
const shutdownGrace = 10 * time.Second

type Command struct {
	UI  cli.Ui
	Log hclog.Logger

	flagConfig string
	flagAddr   string
}

func (c *Command) Synopsis() string {
	return "Run the API server with the indexing scheduler"
}

func (c *Command) Help() string {
	return `Usage: surfsense serve -config=config.hcl

  Runs the chat/research API and the connector indexing scheduler in one
  process. Use the worker command to run indexing separately.

Options:

  -config=<path>  Path to the HCL configuration file (default "config.hcl").
  -addr=<addr>    Listen address, overriding the config (default ":8000").
`
}

func (c *Command) flags() *flag.FlagSet {
	f := flag.NewFlagSet("serve", flag.ContinueOnError)
	f.StringVar(&c.flagConfig, "config", "config.hcl", "Path to configuration file")
	f.StringVar(&c.flagAddr, "addr", "", "Listen address")
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

	addr := c.flagAddr
	if addr == "" && cfg.Server != nil {
		addr = cfg.Server.Addr
	}
	if addr == "" {
		addr = defaultAddr
	}

	mux := api.NewMux(server.Server{
		Config:    cfg,
		DB:        a.DB,
		Agent:     a.Agent,
		Scheduler: a.Scheduler,
		Logger:    c.Log,
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		c.Log.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		c.Log.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.UI.Error(fmt.Sprintf("server error: %v", err))
			return 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		c.Log.Warn("server shutdown", "error", err)
	}
	cancel()
	if err := a.Scheduler.Stop(); err != nil {
		c.Log.Warn("scheduler shutdown", "error", err)
	}

	c.Log.Info("stopped gracefully")
	return 0
}
