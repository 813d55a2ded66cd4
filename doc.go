// Package jobq provides a distributed, persistent job queue for Go.
// Producers enqueue typed units of work; a pool of workers claims and
// executes them with priority ordering, delayed execution, retry with
// backoff, and a dead-letter path for work that cannot succeed.
//
// jobq is a library. Import it, configure a store, and register job
// handlers as ordinary Go functions.
//
// # Quick Start
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	d, err := jobq.New(
//	    jobq.WithStore(redisstore.New(client)),
//	    jobq.WithConcurrency(20),
//	)
//	eng, err := engine.Build(d)
//	engine.Register(eng, job.NewDefinition("send_email", sendEmail))
//	eng.Start(ctx)
//
// # Architecture
//
// Each subsystem (job, dlq, cron, cluster, status) defines its own store
// interface. A single backend implements all of them: Redis for
// production, memory for tests. Every state transition that touches more
// than one structure is a single atomic backend operation, so any number
// of worker processes can share one backend without an in-process lock.
//
// Job and worker IDs are prefix-qualified, K-sortable UUIDv7 values.
package jobq
