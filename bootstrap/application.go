package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/najoast/praas/cluster"
	"github.com/najoast/praas/codec"
	"github.com/najoast/praas/config"
	"github.com/najoast/praas/core"
	"github.com/najoast/praas/functions"
	"github.com/najoast/praas/logging"
	"github.com/najoast/praas/network"
)

// DefaultShutdownTimeout bounds stopping all services.
const DefaultShutdownTimeout = 30 * time.Second

var (
	// ErrNoFunctions is returned when neither a registry nor a manifest is given.
	ErrNoFunctions = errors.New("no function registry or manifest configured")

	// errFinished ends the run group when the loop or a driver is done.
	errFinished = errors.New("process finished")
)

// Driver runs alongside the invoker loop until ctx ends. A driver returning
// an error stops the application.
type Driver func(ctx context.Context, app *ProcessApplication) error

// Option configures a ProcessApplication.
type Option func(*options)

type options struct {
	hub        *cluster.Hub
	registry   *core.Registry
	catalog    functions.Catalog
	logger     *slog.Logger
	configFile string
	drivers    []Driver
	signals    bool
}

// WithHub attaches the process to an existing hub instead of creating one.
func WithHub(hub *cluster.Hub) Option {
	return func(o *options) { o.hub = hub }
}

// WithRegistry uses registry instead of loading the manifest.
func WithRegistry(registry *core.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithCatalog resolves the manifest against catalog.
func WithCatalog(catalog functions.Catalog) Option {
	return func(o *options) { o.catalog = catalog }
}

// WithLogger replaces the logger built from the log configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithConfigFile watches path and applies log level changes live.
func WithConfigFile(path string) Option {
	return func(o *options) { o.configFile = path }
}

// WithDriver runs d next to the loop.
func WithDriver(d Driver) Option {
	return func(o *options) { o.drivers = append(o.drivers, d) }
}

// WithSignals makes Run stop on SIGINT and SIGTERM.
func WithSignals() Option {
	return func(o *options) { o.signals = true }
}

// ProcessApplication is one PraaS process: a function registry, a
// transport and the invoker loop, managed as services.
type ProcessApplication struct {
	config    *config.Config
	logger    *slog.Logger
	logs      *logging.Logger
	registry  *core.Registry
	invoker   *core.Invoker
	transport core.Transport
	hub       *cluster.Hub
	tcp       *cluster.TCPTransport
	process   *ProcessService
	lifecycle *DefaultLifecycleManager
	watcher   *config.Watcher
	drivers   []Driver
	signals   bool
}

// NewProcessApplication builds every component from cfg. Nothing runs
// until Run.
func NewProcessApplication(cfg *config.Config, opts ...Option) (*ProcessApplication, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}
	id := core.ProcessID(cfg.Process.ID)
	if id == "" || id.IsSymbolic() {
		return nil, &ApplicationError{Operation: "configure", Err: fmt.Errorf("%w: %q", cluster.ErrMissingProcessID, cfg.Process.ID)}
	}

	app := &ProcessApplication{config: cfg, drivers: o.drivers, signals: o.signals}

	if o.logger != nil {
		app.logger = o.logger
	} else {
		logs, err := logging.New(cfg.Log)
		if err != nil {
			return nil, &ApplicationError{Operation: "configure", Err: err}
		}
		app.logs = logs
		app.logger = logs.Logger
	}
	app.logger = app.logger.With("process", string(id))

	if err := app.buildRegistry(o); err != nil {
		app.closeLogs()
		return nil, &ApplicationError{Operation: "load functions", Err: err}
	}

	transportService, err := app.buildTransport(id, o.hub)
	if err != nil {
		app.closeLogs()
		return nil, &ApplicationError{Operation: "create transport", Service: ServiceTransport, Err: err}
	}

	app.invoker = core.NewInvoker(id, app.registry, app.transport, core.InvokerOptions{
		OutputBufferSize: cfg.Process.OutputBufferSize,
		MaxDepth:         cfg.Invoke.MaxDepth,
		MailboxKeys:      cfg.Process.MailboxKeys,
	})
	app.invoker.SetLogger(app.logger)
	app.process = NewProcessService(app.invoker, app.logger)

	if o.configFile != "" {
		watcher, err := config.NewWatcher(o.configFile, config.NewLoader(), config.WithWatcherLogger(app.logger))
		if err != nil {
			app.closeLogs()
			return nil, &ApplicationError{Operation: "watch config", Err: err}
		}
		app.watcher = watcher
		if app.logs != nil {
			app.logs.Follow(watcher)
		}
	}

	app.lifecycle = NewLifecycleManager(app.logger)
	if err := app.lifecycle.Register(ServiceTransport, transportService); err != nil {
		return nil, err
	}
	if err := app.lifecycle.Register(ServiceInvoker, app.process, ServiceTransport); err != nil {
		return nil, err
	}

	app.logger.Info("process configured",
		"mode", cfg.Transport.Mode.String(),
		"functions", app.registry.Names())
	return app, nil
}

func (app *ProcessApplication) buildRegistry(o options) error {
	if o.registry != nil {
		app.registry = o.registry
		return nil
	}
	if app.config.Process.ManifestLocation == "" {
		return ErrNoFunctions
	}
	registry, err := functions.LoadFile(app.config.Process.ManifestLocation, app.config.Process.CodeLocation,
		o.catalog, functions.WithLogger(app.logger))
	if err != nil {
		return err
	}
	app.registry = registry
	return nil
}

func (app *ProcessApplication) buildTransport(id core.ProcessID, hub *cluster.Hub) (Service, error) {
	cfg := app.config

	switch cfg.Transport.Mode {
	case config.TransportTCP:
		netConfig, err := networkConfig(cfg)
		if err != nil {
			return nil, err
		}
		peers := make(map[core.ProcessID]string, len(cfg.Transport.Peers))
		for peer, addr := range cfg.Transport.Peers {
			peers[core.ProcessID(peer)] = addr
		}
		breaker := cfg.Transport.CircuitBreaker
		tcp, err := cluster.NewTCPTransport(cluster.TCPConfig{
			ProcessID:        id,
			Network:          netConfig,
			AdvertiseAddress: cfg.Transport.Advertise,
			Peers:            peers,
			InvokeTimeout:    cfg.Invoke.Timeout,
			Encoding:         cfg.Transport.Encoding,
			Compression:      codec.CompressionType(cfg.Transport.Compression),
			PutLimit: cluster.RateLimitConfig{
				Rate:     cfg.Transport.PutLimit.Rate,
				Burst:    cfg.Transport.PutLimit.Burst,
				Duration: cfg.Transport.PutLimit.Interval,
			},
			Breaker: cluster.BreakerConfig{
				MaxRequests:      uint32(breaker.MaxRequests),
				Interval:         breaker.Interval,
				Timeout:          breaker.Timeout,
				FailureThreshold: uint32(breaker.FailureThreshold),
			},
			Logger: app.logger,
		})
		if err != nil {
			return nil, err
		}
		app.tcp = tcp
		app.transport = tcp
		return NewTransportService(tcp), nil

	default:
		owns := hub == nil
		if owns {
			hub = cluster.NewHub(cluster.WithInvokeTimeout(cfg.Invoke.Timeout), cluster.WithHubLogger(app.logger))
		}
		lt, err := hub.Attach(id)
		if err != nil {
			return nil, err
		}
		app.hub = hub
		app.transport = lt
		return NewHubService(hub, id, owns), nil
	}
}

// networkConfig maps the transport section onto the listener settings.
func networkConfig(cfg *config.Config) (*network.Config, error) {
	netConfig := network.DefaultConfig()
	host, portText, err := net.SplitHostPort(cfg.ListenAddress())
	if err != nil {
		return nil, fmt.Errorf("listen address: %w", err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return nil, fmt.Errorf("listen port: %w", err)
	}
	netConfig.Address = host
	netConfig.Port = port
	netConfig.MaxConnections = cfg.Transport.MaxConnections
	netConfig.ReadTimeout = cfg.Transport.Timeouts.Read
	if cfg.Transport.Timeouts.Write > 0 {
		netConfig.WriteTimeout = cfg.Transport.Timeouts.Write
	}
	if cfg.Transport.Timeouts.Dial > 0 {
		netConfig.DialTimeout = cfg.Transport.Timeouts.Dial
	}
	return netConfig, nil
}

// Run starts the services and blocks until ctx ends, a signal arrives when
// enabled, the loop finishes, or a driver fails. Services are then stopped
// in reverse order.
func (app *ProcessApplication) Run(ctx context.Context) error {
	runCtx := ctx
	if app.signals {
		var stop context.CancelFunc
		runCtx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	if err := app.lifecycle.Start(runCtx); err != nil {
		return errors.Join(err, app.Shutdown(context.WithoutCancel(ctx)))
	}
	if app.watcher != nil {
		if err := app.watcher.Start(); err != nil {
			app.logger.Warn("config watcher not started", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		select {
		case <-app.process.Done():
			if err := app.process.Err(); err != nil {
				return err
			}
			return errFinished
		case <-gctx.Done():
			return nil
		}
	})
	for _, driver := range app.drivers {
		driver := driver
		g.Go(func() error {
			return driver(gctx, app)
		})
	}

	runErr := g.Wait()
	if errors.Is(runErr, errFinished) {
		runErr = nil
	}
	if runErr != nil {
		app.logger.Error("process stopping after failure", "error", runErr)
	} else {
		app.logger.Info("process stopping")
	}

	return errors.Join(runErr, app.Shutdown(context.WithoutCancel(ctx)))
}

// Shutdown stops every service and releases the log output.
func (app *ProcessApplication) Shutdown(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, DefaultShutdownTimeout)
	defer cancel()

	var errs []error
	if app.watcher != nil {
		if err := app.watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := app.lifecycle.Stop(stopCtx); err != nil {
		errs = append(errs, err)
	}
	app.closeLogs()
	return errors.Join(errs...)
}

func (app *ProcessApplication) closeLogs() {
	if app.logs == nil {
		return
	}
	if err := app.logs.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "closing log output: %v\n", err)
	}
	app.logs = nil
}

// Submit invokes target on behalf of an external client through the
// process transport.
func (app *ProcessApplication) Submit(ctx context.Context, target core.ProcessID, inv *core.Invocation) (*core.InvocationResult, error) {
	if target == "" || target == core.Self {
		target = app.invoker.ID()
	}
	if app.tcp != nil {
		return app.tcp.Submit(ctx, target, inv)
	}
	return app.hub.Submit(ctx, target, inv)
}

// Health returns the health of every service.
func (app *ProcessApplication) Health(ctx context.Context) (map[string]HealthStatus, error) {
	return app.lifecycle.Health(ctx)
}

// Config returns the configuration the application was built from.
func (app *ProcessApplication) Config() *config.Config { return app.config }

// Logger returns the application logger.
func (app *ProcessApplication) Logger() *slog.Logger { return app.logger }

// Registry returns the function registry.
func (app *ProcessApplication) Registry() *core.Registry { return app.registry }

// Invoker returns the invoker loop.
func (app *ProcessApplication) Invoker() *core.Invoker { return app.invoker }

// Transport returns the transport the loop polls.
func (app *ProcessApplication) Transport() core.Transport { return app.transport }

// Hub returns the hub in local mode, nil otherwise.
func (app *ProcessApplication) Hub() *cluster.Hub { return app.hub }

// TCP returns the TCP transport in tcp mode, nil otherwise.
func (app *ProcessApplication) TCP() *cluster.TCPTransport { return app.tcp }

// Lifecycle returns the lifecycle manager.
func (app *ProcessApplication) Lifecycle() LifecycleManager { return app.lifecycle }
