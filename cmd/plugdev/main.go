// plugdev runs the live-development bridge for an audio plugin project:
// it watches the sources, rebuilds on change, extracts the module's metadata
// in an isolated child process, and serves parameter state, meters and build
// status to control surfaces over a websocket.
//
// The same binary doubles as the extraction child: "plugdev extract-params
// <path>" and "plugdev extract-processors <path>" load the module, print its
// metadata as one line of JSON and exit, so a hung loader only ever takes
// down a disposable process. "plugdev inspect <path>" does the same load
// interactively and prints the full metadata as YAML.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/plugdev/plugdev"
	"github.com/plugdev/plugdev/config"
	"github.com/plugdev/plugdev/extract"
	"github.com/plugdev/plugdev/host"
	"github.com/plugdev/plugdev/session"
	"github.com/plugdev/plugdev/version"
)

func main() {
	// the extraction child must not parse serve flags; dispatch on the bare
	// subcommand first
	if len(os.Args) >= 3 {
		switch os.Args[1] {
		case extract.ModeParams, extract.ModeProcessors:
			os.Exit(extract.RunChild(os.Args[1], os.Args[2]))
		}
	}

	configPath := flag.String("c", "plugdev.yaml", "Path to the configuration file.")
	listen := flag.String("listen", "", "Listen address, overrides the configuration.")
	artifact := flag.String("artifact", "", "Module artifact path, overrides the configuration.")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Parse()

	if *versionFlag || flag.Arg(0) == "version" {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if flag.Arg(0) == "inspect" {
		os.Exit(inspect(flag.Arg(1)))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *artifact != "" {
		cfg.Build.Artifact = *artifact
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	log, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	s, err := session.New(cfg, log)
	if err != nil {
		log.Fatal("session setup failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("plugdev starting",
		zap.String("version", version.VersionOrHash),
		zap.String("listen", cfg.Listen),
		zap.String("artifact", cfg.Build.Artifact))
	if err := s.Run(ctx); err != nil {
		log.Fatal("session failed", zap.Error(err))
	}
	log.Info("plugdev stopped")
}

// inspect loads a module in this process and prints its metadata as YAML.
// Unlike the extraction child this is interactive tooling; a hang here is
// visible and Ctrl-C away.
func inspect(path string) int {
	if path == "" {
		fmt.Fprintln(os.Stderr, "usage: plugdev inspect <module>")
		return 2
	}
	log, _ := zap.NewDevelopment()
	h, err := host.NewDylibHost(path, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer h.Close()

	out := struct {
		Params     []plugdev.ParameterInfo `yaml:"params"`
		Processors []plugdev.ProcessorInfo `yaml:"processors"`
		Engine     bool                    `yaml:"engine"`
	}{
		Params:     h.Parameters(),
		Processors: h.Processors(),
	}
	_, out.Engine = h.Engine()
	raw, err := yaml.Marshal(out)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	os.Stdout.Write(raw)
	return 0
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
