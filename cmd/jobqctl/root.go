package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/engine"
	"github.com/xraph/jobq/store/redis"
)

// app holds the global flags and the lazily built engine shared by every
// subcommand.
type app struct {
	configPath string
	redisURL   string
	keyPrefix  string
	logFormat  string
	logLevel   string

	logger *slog.Logger
	store  *redis.Store
	prefix string
	eng    *engine.Engine
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "jobqctl",
		Short:        "Inspect and operate jobq queues",
		SilenceUsage: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", os.Getenv("JOBQ_CONFIG"), "Path to a JSON config file")
	f.StringVar(&a.redisURL, "redis-url", "", "Redis URL (overrides config and JOBQ_REDIS_URL)")
	f.StringVar(&a.keyPrefix, "key-prefix", "", "Redis key prefix (overrides config)")
	f.StringVar(&a.logFormat, "log-format", "text", "Log format: text|json")
	f.StringVar(&a.logLevel, "log-level", "warn", "Log level: debug|info|warn|error")

	root.AddCommand(
		newStatsCommand(a),
		newQueuesCommand(a),
		newQueueCommand(a),
		newJobsCommand(a),
		newEnqueueCommand(a),
		newDLQCommand(a),
		newWorkersCommand(a),
		newSchedulesCommand(a),
		newActivityCommand(a),
		newAuditCommand(a),
	)
	return root
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q; use debug|info|warn|error", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("invalid --log-format %q; use text|json", format)
}

// engine connects to Redis on first use and builds an engine that is
// never started: the CLI only uses its control and query surface.
func (a *app) engine(ctx context.Context) (*engine.Engine, error) {
	if a.eng != nil {
		return a.eng, nil
	}

	logger, err := newLogger(a.logFormat, a.logLevel)
	if err != nil {
		return nil, err
	}
	a.logger = logger

	cfg, err := jobq.LoadConfig(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.redisURL != "" {
		cfg.Store.RedisURL = a.redisURL
	}
	if a.keyPrefix != "" {
		cfg.Store.KeyPrefix = a.keyPrefix
	}

	s, err := redis.FromConfig(ctx, cfg, redis.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	d, err := jobq.New(jobq.WithConfig(cfg), jobq.WithStore(s), jobq.WithLogger(logger))
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	eng, err := engine.Build(d)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	a.store = s
	a.prefix = cfg.Store.KeyPrefix
	a.eng = eng
	return eng, nil
}

func (a *app) close(ctx context.Context) error {
	if a.eng == nil {
		return nil
	}
	err := a.eng.Stop(ctx)
	a.eng = nil
	a.store = nil
	return err
}

// run wraps a command body that needs the engine and releases the
// connection when it returns.
func (a *app) run(fn func(cmd *cobra.Command, args []string, eng *engine.Engine) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		eng, err := a.engine(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, a.close(context.WithoutCancel(cmd.Context())))
		}()
		return fn(cmd, args, eng)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
