package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/jobq/dlq"
	"github.com/xraph/jobq/engine"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/status"
)

// newStatsCommand constructs the `stats` command.
func newStatsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the dashboard, or the stats of one queue",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string, eng *engine.Engine) error {
			queue, _ := cmd.Flags().GetString("queue")
			periodFlag, _ := cmd.Flags().GetString("period")

			if queue != "" {
				stats, err := eng.Tracker().QueueStats(cmd.Context(), queue)
				if err != nil {
					return err
				}
				return printJSON(cmd, stats)
			}
			if periodFlag != "" {
				period, ok := status.ParsePeriod(periodFlag)
				if !ok {
					return fmt.Errorf("invalid --period %q; use 1h|24h|7d", periodFlag)
				}
				tp, err := eng.Tracker().Throughput(cmd.Context(), period)
				if err != nil {
					return err
				}
				return printJSON(cmd, tp)
			}
			dash, err := eng.Tracker().Dashboard(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, dash)
		}),
	}
	cmd.Flags().StringP("queue", "q", "", "Queue name")
	cmd.Flags().String("period", "", "Show throughput for a period instead: 1h|24h|7d")
	return cmd
}

// newQueuesCommand constructs the `queues` command.
func newQueuesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "List every queue with its stats",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string, eng *engine.Engine) error {
			stats, err := eng.Tracker().AllQueueStats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		}),
	}
}

// newQueueCommand constructs the `queue` command group.
func newQueueCommand(a *app) *cobra.Command {
	queueCmd := &cobra.Command{Use: "queue", Short: "Queue operations"}
	queueCmd.AddCommand(&cobra.Command{
		Use:   "purge <queue>",
		Short: "Delete every pending and delayed job of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string, eng *engine.Engine) error {
			n, err := eng.PurgeQueue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"queue": args[0], "removed": n})
		}),
	})
	return queueCmd
}

// newJobsCommand constructs the `jobs` command group.
func newJobsCommand(a *app) *cobra.Command {
	jobsCmd := &cobra.Command{Use: "jobs", Short: "Job operations"}

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Search jobs, newest first",
		Long: `Search jobs by state, type, queue and creation time.

--filter takes a CEL expression over the variable job, for example:
  job.attempts > 1 && job.queue == "email"`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string, eng *engine.Engine) error {
			q := status.SearchQuery{}
			state, _ := cmd.Flags().GetString("state")
			q.State = job.State(state)
			q.Type, _ = cmd.Flags().GetString("type")
			q.Queue, _ = cmd.Flags().GetString("queue")
			q.Filter, _ = cmd.Flags().GetString("filter")
			q.Offset, _ = cmd.Flags().GetInt("offset")
			q.Limit, _ = cmd.Flags().GetInt("limit")
			since, _ := cmd.Flags().GetDuration("since")
			if since > 0 {
				q.From = time.Now().UTC().Add(-since)
			}

			res, err := eng.Tracker().SearchJobs(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		}),
	}
	searchCmd.Flags().String("state", "", "Job state: pending|active|completed|dead_lettered|cancelled")
	searchCmd.Flags().String("type", "", "Job type")
	searchCmd.Flags().StringP("queue", "q", "", "Queue name")
	searchCmd.Flags().String("filter", "", "CEL filter expression")
	searchCmd.Flags().Duration("since", 0, "Only jobs created within this duration")
	searchCmd.Flags().Int("offset", 0, "Number of matches to skip")
	searchCmd.Flags().Int("limit", 50, "Maximum number of jobs to return (0 for all)")

	getCmd := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job with its failure history",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string, eng *engine.Engine) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}
			j, err := eng.Tracker().Job(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			return printJSON(cmd, j)
		}),
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string, eng *engine.Engine) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}
			ok, err := eng.Cancel(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"job_id": jobID, "cancelled": ok})
		}),
	}

	jobsCmd.AddCommand(searchCmd, getCmd, cancelCmd)
	return jobsCmd
}

// newEnqueueCommand constructs the `enqueue` command.
func newEnqueueCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue <job-type>",
		Short: "Enqueue a job with a JSON payload",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string, eng *engine.Engine) error {
			data, _ := cmd.Flags().GetString("data")
			queue, _ := cmd.Flags().GetString("queue")
			prio, _ := cmd.Flags().GetString("priority")
			delay, _ := cmd.Flags().GetDuration("delay")
			key, _ := cmd.Flags().GetString("unique-key")
			maxRetries, _ := cmd.Flags().GetInt("max-retries")

			priority, err := job.ParsePriority(prio)
			if err != nil {
				return err
			}
			opts := []job.Option{job.WithQueue(queue), job.WithPriority(priority)}
			if delay > 0 {
				opts = append(opts, job.WithDelay(delay))
			}
			if key != "" {
				opts = append(opts, job.WithUniqueKey(key))
			}
			if cmd.Flags().Changed("max-retries") {
				opts = append(opts, job.WithMaxRetries(maxRetries))
			}

			jobID, err := eng.EnqueueRaw(cmd.Context(), args[0], []byte(data), opts...)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"job_id": jobID})
		}),
	}
	cmd.Flags().String("data", "{}", "JSON payload")
	cmd.Flags().StringP("queue", "q", "default", "Queue name")
	cmd.Flags().String("priority", "normal", "Priority: low|normal|high|critical")
	cmd.Flags().Duration("delay", 0, "Delay before the job becomes eligible")
	cmd.Flags().String("unique-key", "", "Deduplication key")
	cmd.Flags().Int("max-retries", job.UnsetRetries, "Maximum attempts (unset uses the worker's policy)")
	return cmd
}

// newDLQCommand constructs the `dlq` command group.
func newDLQCommand(a *app) *cobra.Command {
	dlqCmd := &cobra.Command{Use: "dlq", Short: "Dead-letter queue operations"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string, eng *engine.Engine) error {
			var opts dlq.ListOpts
			opts.Queue, _ = cmd.Flags().GetString("queue")
			opts.Offset, _ = cmd.Flags().GetInt("offset")
			opts.Limit, _ = cmd.Flags().GetInt("limit")
			entries, err := eng.DLQ().List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		}),
	}
	listCmd.Flags().StringP("queue", "q", "", "Queue name")
	listCmd.Flags().Int("offset", 0, "Number of entries to skip")
	listCmd.Flags().Int("limit", 50, "Maximum number of entries (0 for all)")

	retryCmd := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Move a dead-lettered job back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string, eng *engine.Engine) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}
			j, err := eng.RetryDeadLetter(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			return printJSON(cmd, j)
		}),
	}

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every dead-lettered job",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string, eng *engine.Engine) error {
			n, err := eng.PurgeDeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"removed": n})
		}),
	}

	dlqCmd.AddCommand(listCmd, retryCmd, purgeCmd)
	return dlqCmd
}

// newWorkersCommand constructs the `workers` command.
func newWorkersCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "List registered workers with their health",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string, eng *engine.Engine) error {
			workers, err := eng.Tracker().Workers(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, workers)
		}),
	}
}

// newSchedulesCommand constructs the `schedules` command group.
func newSchedulesCommand(a *app) *cobra.Command {
	schedCmd := &cobra.Command{
		Use:     "schedules",
		Aliases: []string{"cron"},
		Short:   "Recurring schedule operations",
	}

	byName := func(use, short string, fn func(cmd *cobra.Command, eng *engine.Engine, name string) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <name>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: a.run(func(cmd *cobra.Command, args []string, eng *engine.Engine) error {
				out, err := fn(cmd, eng, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, out)
			}),
		}
	}

	schedCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List schedules with their next and last fire times",
			Args:  cobra.NoArgs,
			RunE: a.run(func(cmd *cobra.Command, _ []string, eng *engine.Engine) error {
				entries, err := eng.Scheduler().List(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, entries)
			}),
		},
		byName("enable", "Enable a schedule", func(cmd *cobra.Command, eng *engine.Engine, name string) (any, error) {
			if err := eng.Scheduler().Enable(cmd.Context(), name); err != nil {
				return nil, err
			}
			return eng.Scheduler().Get(cmd.Context(), name)
		}),
		byName("disable", "Disable a schedule", func(cmd *cobra.Command, eng *engine.Engine, name string) (any, error) {
			if err := eng.Scheduler().Disable(cmd.Context(), name); err != nil {
				return nil, err
			}
			return eng.Scheduler().Get(cmd.Context(), name)
		}),
		byName("trigger", "Enqueue a schedule's job now", func(cmd *cobra.Command, eng *engine.Engine, name string) (any, error) {
			jobID, err := eng.Scheduler().Trigger(cmd.Context(), name)
			if err != nil {
				return nil, err
			}
			return map[string]any{"schedule": name, "job_id": jobID}, nil
		}),
		byName("remove", "Delete a schedule", func(cmd *cobra.Command, eng *engine.Engine, name string) (any, error) {
			if err := eng.Scheduler().Remove(cmd.Context(), name); err != nil {
				return nil, err
			}
			return map[string]any{"schedule": name, "removed": true}, nil
		}),
	)
	return schedCmd
}

// newActivityCommand constructs the `activity` command.
func newActivityCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the latest completions and dead-letters",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string, eng *engine.Engine) error {
			limit, _ := cmd.Flags().GetInt("limit")
			acts, err := eng.Tracker().RecentActivity(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, acts)
		}),
	}
	cmd.Flags().Int("limit", 20, "Maximum number of entries")
	return cmd
}
