package jobq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// Storer is the minimal store interface held by the Dispatcher. The full
// composite interface (store.Store) is asserted by the engine package,
// which sits above the subsystem packages.
type Storer interface {
	Ping(ctx context.Context) error
	Close() error
}

// Component is a long-running subsystem (worker pool, scheduler) whose
// lifecycle the Dispatcher owns.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// shutdownEmitter is an internal interface for extension shutdown hooks.
type shutdownEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Dispatcher holds the configuration, logger, and store shared by every
// subsystem and runs their lifecycles. Create one with New, then wire the
// subsystems with engine.Build.
type Dispatcher struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions shutdownEmitter

	mu         sync.Mutex
	components []Component
	started    int
}

// New creates a new Dispatcher with the given options.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if err := d.config.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Store returns the dispatcher's store.
func (d *Dispatcher) Store() Storer { return d.store }

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() Config { return d.config }

// AddComponent registers a component. Components start in registration
// order and stop in reverse.
func (d *Dispatcher) AddComponent(c Component) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.components = append(d.components, c)
}

// SetExtensions sets the extension emitter (called by the engine package).
func (d *Dispatcher) SetExtensions(e shutdownEmitter) { d.extensions = e }

// Start starts every registered component. If one fails, the components
// already started are stopped again.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.store == nil {
		return ErrNoStore
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := d.started; i < len(d.components); i++ {
		if err := d.components[i].Start(ctx); err != nil {
			d.stopLocked(ctx)
			return err
		}
		d.started = i + 1
	}
	return nil
}

// Stop gracefully shuts down started components in reverse order, emits
// the shutdown hook, and closes the store.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	err := d.stopLocked(ctx)
	d.mu.Unlock()

	if d.extensions != nil {
		d.extensions.EmitShutdown(ctx)
	}
	if d.store != nil {
		err = errors.Join(err, d.store.Close())
	}
	return err
}

func (d *Dispatcher) stopLocked(ctx context.Context) error {
	var errs []error
	for i := d.started - 1; i >= 0; i-- {
		if err := d.components[i].Stop(ctx); err != nil {
			d.logger.Error("component stop error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	d.started = 0
	return errors.Join(errs...)
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) error {
		d.config = cfg
		return nil
	}
}

// WithConcurrency sets the number of worker slots.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) error {
		d.config.Worker.Concurrency = n
		return nil
	}
}

// WithQueues sets the queues the worker pool will poll.
func WithQueues(queues ...string) Option {
	return func(d *Dispatcher) error {
		d.config.Worker.Queues = queues
		return nil
	}
}

// WithLogger sets the structured logger for the dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The engine package requires it
// to implement store.Store.
func WithStore(s Storer) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}
