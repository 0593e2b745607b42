// Command praas-process runs one PraaS process: it loads the function
// manifest, attaches to a transport and serves invocations until stopped.
//
// In local mode the process reads JSON invocation requests from stdin, one
// per line, and writes one JSON result per line to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/najoast/praas/bootstrap"
	"github.com/najoast/praas/config"
	"github.com/najoast/praas/examples/handlers"
)

type flags struct {
	processID      string
	ipcMode        string
	ipcName        string
	codeLocation   string
	configLocation string
	configFile     string
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet("praas-process", flag.ContinueOnError)
	fs.StringVar(&f.processID, "process-id", "", "process identifier")
	fs.StringVar(&f.ipcMode, "ipc-mode", "", "transport mode: local or tcp")
	fs.StringVar(&f.ipcName, "ipc-name", "", "transport name; host:port to listen on in tcp mode")
	fs.StringVar(&f.codeLocation, "code-location", "", "directory holding the function code and manifest")
	fs.StringVar(&f.configLocation, "config-location", "", "function manifest, relative to -code-location")
	fs.StringVar(&f.configFile, "config", "", "runtime configuration file (YAML or JSON)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// apply overrides cfg with every flag that was set.
func (f *flags) apply(cfg *config.Config) {
	if f.processID != "" {
		cfg.Process.ID = f.processID
	}
	if f.ipcMode != "" {
		cfg.Transport.Mode = config.TransportMode(f.ipcMode)
	}
	if f.ipcName != "" {
		cfg.Transport.Name = f.ipcName
	}
	if f.codeLocation != "" {
		cfg.Process.CodeLocation = f.codeLocation
	}
	if f.configLocation != "" {
		cfg.Process.ManifestLocation = f.configLocation
	}
}

func run(ctx context.Context, args []string) error {
	f, err := parseFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(f.configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	f.apply(cfg)

	opts := []bootstrap.Option{bootstrap.WithCatalog(handlers.Catalog()), bootstrap.WithSignals()}
	if cfg.Process.ManifestLocation == "" {
		registry, err := handlers.Registry()
		if err != nil {
			return fmt.Errorf("loading sample functions: %w", err)
		}
		opts = append(opts, bootstrap.WithRegistry(registry))
	}
	if f.configFile != "" {
		opts = append(opts, bootstrap.WithConfigFile(f.configFile))
	}
	if cfg.Transport.Mode == config.TransportLocal {
		opts = append(opts, bootstrap.WithDriver(bootstrap.LineDriver(os.Stdin, os.Stdout)))
	}

	app, err := bootstrap.NewProcessApplication(cfg, opts...)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "praas-process: %v\n", err)
		os.Exit(1)
	}
}
