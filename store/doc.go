// Package store defines the aggregate persistence interface.
//
// Each subsystem (job, cron, dlq, cluster, status) defines its own store
// interface. The composite [Store] composes them all. A single backend
// need only implement Store to satisfy every subsystem's persistence
// contract.
//
// Every operation that moves a job between structures (tier, delayed set,
// active map, dead-letter set, completed log) is atomic on the backend.
// Workers in separate processes race only through these operations, never
// through read-modify-write sequences of separate calls.
//
// # Available Backends
//
//   - store/redis: Redis backend using go-redis/v9 and Lua scripts
//   - store/memory: in-memory store for development and testing
//
// # Usage
//
//	import "github.com/xraph/jobq/store/redis"
//
//	s, err := redis.Open(ctx, "redis://localhost:6379/0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	eng, err := engine.Build(jobq.DefaultConfig(), engine.WithStore(s))
//
// The store/storetest package holds the behaviour suite every backend runs.
package store
