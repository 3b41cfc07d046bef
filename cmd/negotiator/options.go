package main

import (
	"github.com/jessevdk/go-flags"
)

// Options is the root command. Struct tags are interpreted by github.com/jessevdk/go-flags.
type Options struct {
	Config string `short:"f" long:"config" env:"NEGOTIATOR_CONFIG" description:"YAML config path"`

	Serve   ServeCmd   `command:"serve" description:"Serve the HTTP API and MCP endpoint and run background tasks"`
	Worker  WorkerCmd  `command:"worker" description:"Run background tasks only"`
	Status  StatusCmd  `command:"status" description:"Print a negotiation summary"`
	Version VersionCmd `command:"version" description:"Print the version"`
}

// newParser wires sub-commands to the root options and builds the parser.
func newParser(opts *Options) *flags.Parser {
	opts.Serve.root = opts
	opts.Worker.root = opts
	opts.Status.root = opts
	return flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
}
