package redis

import (
	"strconv"

	"github.com/xraph/jobq/job"
)

// keys builds every key under one prefix. The Lua scripts derive the same
// job, queue and unique key names from the prefix, so the layouts here and
// in scripts.go must agree.
type keys struct {
	p string // prefix including the trailing colon
}

func newKeys(prefix string) keys {
	if prefix == "" {
		prefix = "jobq"
	}
	return keys{p: prefix + ":"}
}

func (k keys) job(jobID string) string { return k.p + "job:" + jobID }

// jobs indexes every stored job by creation time.
func (k keys) jobs() string { return k.p + "jobs" }

func (k keys) queues() string { return k.p + "queues" }

func (k keys) tier(queue string, p job.Priority) string {
	return k.p + "queue:" + queue + ":" + strconv.Itoa(int(p))
}

func (k keys) queueDelayed(queue string) string { return k.p + "queue:" + queue + ":delayed" }

func (k keys) queueActive(queue string) string { return k.p + "queue:" + queue + ":active" }

// delayed orders every delayed job by due time across queues.
func (k keys) delayed() string { return k.p + "delayed" }

// active maps claimed job IDs to their claimants.
func (k keys) active() string { return k.p + "active" }

func (k keys) completed() string { return k.p + "completed" }

func (k keys) cancelled() string { return k.p + "cancelled" }

func (k keys) dlq() string { return k.p + "dlq" }

func (k keys) unique(key string) string { return k.p + "unique:" + key }

func (k keys) stats(queue string) string { return k.p + "stats:" + queue }

func (k keys) scheduled() string     { return k.p + "scheduled" }
func (k keys) scheduledNext() string { return k.p + "scheduled:next" }
func (k keys) scheduledLast() string { return k.p + "scheduled:last" }

func (k keys) workers() string { return k.p + "workers" }

func (k keys) workerAlive(workerID string) string { return k.p + "worker:" + workerID }

func (k keys) schedulerLock() string { return k.p + "scheduler:lock" }

// tierKeys lists a queue's tier keys in job.Tiers order.
func (k keys) tierKeys(queue string) []string {
	out := make([]string, len(job.Tiers))
	for i, t := range job.Tiers {
		out[i] = k.tier(queue, t)
	}
	return out
}
