// Package redis implements store.Store on Redis with go-redis.
//
// Each job is a Redis hash. Pending jobs sit in one sorted set per queue
// and priority tier, scored by due time in milliseconds; jobs scheduled
// in the future sit in a per-queue delayed set and in a global delayed set
// that drives promotion. Claims, settlement, cancellation, promotion and
// dead-letter moves run as Lua scripts so any number of processes can
// share one server. Schedules and worker records are encoded with the
// configured Codec (msgpack by default).
//
// New wraps a client the caller owns; Open dials from a URL and closes
// the client on Close:
//
//	s, err := redis.Open(ctx, "redis://localhost:6379/0", redis.WithKeyPrefix("jobq"))
//	if err != nil { ... }
//	defer s.Close()
package redis
