package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
)

// Definition binds a job type to a handler for its decoded payload and to
// the options every enqueue of that type starts from. T must round-trip
// through encoding/json.
type Definition[T any] struct {
	Name string

	// Handler processes the decoded payload. It should observe ctx
	// cancellation; the worker cannot preempt it otherwise.
	Handler func(ctx context.Context, payload T) error

	Opts Options
}

// NewDefinition creates a definition whose options are DefaultOptions
// with opts applied.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{Name: name, Handler: handler, Opts: DefaultOptions()}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// Validate reports a definition no worker could dispatch or retry.
func (d *Definition[T]) Validate() error {
	if d == nil {
		return jobq.Configuration(errors.New("nil job definition"))
	}
	switch {
	case strings.TrimSpace(d.Name) == "":
		return jobq.Configuration(errors.New("job definition has no name"))
	case d.Handler == nil:
		return jobq.Configuration(fmt.Errorf("job %q has no handler", d.Name))
	case d.Opts.Queue == "":
		return jobq.Configuration(fmt.Errorf("job %q has no queue", d.Name))
	case d.Opts.Timeout < 0:
		return jobq.Configuration(fmt.Errorf("job %q has a negative timeout", d.Name))
	}
	if c, ok := d.Opts.Backoff.(backoff.Curve); ok {
		if err := c.Validate(); err != nil {
			return jobq.Configuration(fmt.Errorf("job %q: %w", d.Name, err))
		}
	}
	return nil
}

// Decode unmarshals a stored payload. An empty payload is the zero T.
func (d *Definition[T]) Decode(payload []byte) (T, error) {
	var t T
	if len(payload) == 0 {
		return t, nil
	}
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, jobq.Serialization(fmt.Errorf("unmarshal payload for job %q: %w", d.Name, err))
	}
	return t, nil
}

// Handle adapts the typed handler to the registry's HandlerFunc. A payload
// that does not decode fails with a serialization error, which is never
// retried.
func (d *Definition[T]) Handle() HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		t, err := d.Decode(payload)
		if err != nil {
			return err
		}
		return d.Handler(ctx, t)
	}
}
