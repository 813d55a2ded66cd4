// Package cluster tracks the worker processes sharing a backend and the
// lease that elects the single scheduler leader.
//
// Each worker pool registers a [Worker] record and refreshes it on every
// heartbeat with the IDs of the jobs its slots hold. A worker that misses
// heartbeats for longer than the heartbeat timeout is considered dead:
// the queue core's stale-job recovery fails its claimed jobs as worker
// crashes so the retry policy can requeue them.
//
// # Leader Lease
//
// The scheduler lease is a single key with a TTL. The holder renews it at
// half the TTL; if the holder dies, the key expires and another process
// acquires it. Only the holder runs the scheduler tick.
package cluster
