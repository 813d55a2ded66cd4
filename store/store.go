// Package store defines the aggregate persistence interface. Each subsystem
// (job, cron, dlq, cluster, status) defines its own store interface.
// The composite Store composes them all. Backends: Redis and Memory.
package store

import (
	"context"

	"github.com/xraph/jobq/cluster"
	"github.com/xraph/jobq/cron"
	"github.com/xraph/jobq/dlq"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/status"
)

// Store is the aggregate persistence interface.
// A single backend implements every subsystem contract.
type Store interface {
	job.Store
	cron.Store
	dlq.Store
	cluster.Store
	status.Reader

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the backend connection.
	Close() error
}
