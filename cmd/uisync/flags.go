package main

import (
	stderrors "errors"
	"io/fs"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/vango-dev/uisync/internal/config"
	"github.com/vango-dev/uisync/internal/errors"
)

// configFlags are the flags shared by serve and check-config. Flags the
// user set override the file.
type configFlags struct {
	file      string
	addr      string
	logLevel  string
	logFormat string
	static    string
	ws        bool
	compress  bool
	metrics   bool
	tracing   bool
}

func (f *configFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.file, "config", "c", "", "Path to "+config.ConfigFileName+" (default: ./"+config.ConfigFileName+" if present)")
	fl.StringVarP(&f.addr, "addr", "a", "", "Address to listen on")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	fl.StringVar(&f.logFormat, "log-format", "", "Log format: text or json")
	fl.StringVar(&f.static, "static", "", "Directory served for GET requests")
	fl.BoolVar(&f.ws, "ws", false, "Enable the WebSocket endpoint at <path>/ws")
	fl.BoolVar(&f.compress, "compress", false, "Gzip JSON responses")
	fl.BoolVar(&f.metrics, "metrics", false, "Expose Prometheus metrics")
	fl.BoolVar(&f.tracing, "tracing", false, "Create OpenTelemetry spans per request")
}

// load reads the configuration file and applies the flags.
func (f *configFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := f.loadFile()
	if err != nil {
		return nil, err
	}

	fl := cmd.Flags()
	if fl.Changed("addr") {
		cfg.Server.Address = f.addr
	}
	if fl.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fl.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if fl.Changed("static") {
		abs, err := filepath.Abs(f.static)
		if err != nil {
			return nil, errors.New("E201").WithDetail("--static: " + err.Error())
		}
		cfg.Static.Dir = abs
	}
	if fl.Changed("ws") {
		cfg.Server.WebSocketPath = ""
		if f.ws {
			cfg.Server.WebSocketPath = cfg.Server.Path + "/ws"
		}
	}
	if fl.Changed("compress") {
		cfg.Server.Compress = f.compress
	}
	if fl.Changed("metrics") {
		cfg.Metrics.Enabled = f.metrics
	}
	if fl.Changed("tracing") {
		cfg.Tracing.Enabled = f.tracing
	}
	return cfg, cfg.Validate()
}

func (f *configFlags) loadFile() (*config.Config, error) {
	if f.file != "" {
		return config.LoadFile(f.file)
	}
	cfg, err := config.Load(".")
	if stderrors.Is(err, fs.ErrNotExist) {
		return config.New(), nil
	}
	return cfg, err
}
