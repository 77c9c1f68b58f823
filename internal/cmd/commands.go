package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/MODSetter/SurfSense-sub000/internal/cmd/commands/serve"
	"github.com/MODSetter/SurfSense-sub000/internal/cmd/commands/worker"
)

// Commands is the mapping of all available commands.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	Commands = map[string]cli.CommandFactory{
		"serve": func() (cli.Command, error) {
			return &serve.Command{UI: ui, Log: log}, nil
		},
		"worker": func() (cli.Command, error) {
			return &worker.Command{UI: ui, Log: log}, nil
		},
	}
}
