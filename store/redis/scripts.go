package redis

import goredis "github.com/redis/go-redis/v9"

// Key layouts used below mirror keys.go. A prefix argument always ends
// with a colon.

// dropFn removes every trace of one job.
const dropFn = `
local function drop(p, jid)
  local jk = p .. 'job:' .. jid
  local f = redis.call('HMGET', jk, 'queue', 'priority', 'unique_key')
  if f[1] then
    local qk = p .. 'queue:' .. f[1] .. ':'
    redis.call('ZREM', qk .. f[2], jid)
    redis.call('ZREM', qk .. 'delayed', jid)
    if f[3] and f[3] ~= '' then
      local uk = p .. 'unique:' .. f[3]
      if redis.call('GET', uk) == jid then redis.call('DEL', uk) end
    end
  end
  redis.call('ZREM', p .. 'delayed', jid)
  redis.call('ZREM', p .. 'dlq', jid)
  redis.call('ZREM', p .. 'completed', jid)
  redis.call('ZREM', p .. 'cancelled', jid)
  redis.call('ZREM', p .. 'jobs', jid)
  redis.call('DEL', jk)
  return f[1] ~= false
end
`

// enqueueScript
// KEYS: job, unique, queues, tier, queue delayed, delayed, stats, jobs,
// then the queue's tier keys.
// ARGV: id, queue, due ms, delayed flag, unique ttl ms, max pending,
// created ms, unique flag, prefix, field/value pairs...
// Returns {0, id} on insert, {1, holder} for a live unique holder,
// {2, ''} for a duplicate ID and {3, ''} when the queue is full.
var enqueueScript = goredis.NewScript(`
if ARGV[8] == '1' then
  local holder = redis.call('GET', KEYS[2])
  if holder then
    local st = redis.call('HGET', ARGV[9] .. 'job:' .. holder, 'state')
    if st == 'pending' or st == 'active' then return {1, holder} end
    redis.call('DEL', KEYS[2])
  end
end
if redis.call('EXISTS', KEYS[1]) == 1 then return {2, ''} end
local maxp = tonumber(ARGV[6])
if maxp > 0 then
  local n = redis.call('ZCARD', KEYS[5])
  for i = 9, #KEYS do n = n + redis.call('ZCARD', KEYS[i]) end
  if n >= maxp then return {3, ''} end
end
redis.call('HSET', KEYS[1], unpack(ARGV, 10))
if ARGV[8] == '1' then
  local ttl = tonumber(ARGV[5])
  if ttl > 0 then
    redis.call('SET', KEYS[2], ARGV[1], 'PX', ttl)
  else
    redis.call('SET', KEYS[2], ARGV[1])
  end
end
redis.call('SADD', KEYS[3], ARGV[2])
if ARGV[4] == '1' then
  redis.call('ZADD', KEYS[5], ARGV[3], ARGV[1])
  redis.call('ZADD', KEYS[6], ARGV[3], ARGV[1])
else
  redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
end
redis.call('ZADD', KEYS[8], ARGV[7], ARGV[1])
redis.call('HINCRBY', KEYS[7], 'enqueued', 1)
return {0, ARGV[1]}
`)

// claimScript
// KEYS: active, queue active, stats, then the queue's tier keys.
// ARGV: worker id, now, prefix, then 1-based tier indexes in claim order.
// Returns nil when every tier is empty, else {id, due ms, tier index,
// {non-empty tier indexes}, {job hash field/value pairs}}. The hash is
// read in the same step as the claim so a claimed job always reaches the
// caller.
var claimScript = goredis.NewScript(`
local waiting = {}
for i = 4, #KEYS do
  if redis.call('ZCARD', KEYS[i]) > 0 then table.insert(waiting, i - 3) end
end
if #waiting == 0 then return false end
for a = 4, #ARGV do
  local idx = tonumber(ARGV[a])
  local key = KEYS[idx + 3]
  local head = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  if #head > 0 then
    local jid = head[1]
    local jk = ARGV[3] .. 'job:' .. jid
    redis.call('ZREM', key, jid)
    redis.call('HSET', jk, 'state', 'active', 'worker_id', ARGV[1], 'started_at', ARGV[2], 'updated_at', ARGV[2])
    redis.call('HINCRBY', jk, 'attempts', 1)
    redis.call('HSET', KEYS[1], jid, ARGV[1])
    redis.call('SADD', KEYS[2], jid)
    redis.call('HINCRBY', KEYS[3], 'active', 1)
    return {jid, head[2], idx, waiting, redis.call('HGETALL', jk)}
  end
end
return false
`)

// releaseClaim drops a claim held by ARGV[2] on job ARGV[1].
// KEYS: active, queue active, stats.
const releaseClaimFn = `
local function release_claim()
  if redis.call('HGET', KEYS[1], ARGV[1]) ~= ARGV[2] then return false end
  redis.call('HDEL', KEYS[1], ARGV[1])
  redis.call('SREM', KEYS[2], ARGV[1])
  if tonumber(redis.call('HGET', KEYS[3], 'active') or '0') > 0 then
    redis.call('HINCRBY', KEYS[3], 'active', -1)
  end
  return true
end
`

// requeueScript
// KEYS: active, queue active, stats, job, target (tier or queue delayed),
// delayed.
// ARGV: id, worker id, due ms, delayed flag, counter count, counters...,
// field/value pairs...
// Returns 0 when the worker does not hold the claim.
var requeueScript = goredis.NewScript(releaseClaimFn + `
if not release_claim() then return 0 end
local n = tonumber(ARGV[5])
for i = 1, n do redis.call('HINCRBY', KEYS[3], ARGV[5 + i], 1) end
redis.call('DEL', KEYS[4])
redis.call('HSET', KEYS[4], unpack(ARGV, 6 + n))
redis.call('ZADD', KEYS[5], ARGV[3], ARGV[1])
if ARGV[4] == '1' then redis.call('ZADD', KEYS[6], ARGV[3], ARGV[1]) end
return 1
`)

// finishScript
// KEYS: active, queue active, stats, job, log (completed, dlq or
// cancelled), unique.
// ARGV: id, worker id, at ms, unique flag, counter count, counters...,
// field/value pairs...
// Returns 0 when the worker does not hold the claim.
var finishScript = goredis.NewScript(releaseClaimFn + `
if not release_claim() then return 0 end
local n = tonumber(ARGV[5])
for i = 1, n do redis.call('HINCRBY', KEYS[3], ARGV[5 + i], 1) end
redis.call('DEL', KEYS[4])
redis.call('HSET', KEYS[4], unpack(ARGV, 6 + n))
redis.call('ZADD', KEYS[5], ARGV[3], ARGV[1])
if ARGV[4] == '1' and redis.call('GET', KEYS[6]) == ARGV[1] then
  redis.call('DEL', KEYS[6])
end
return 1
`)

// cancelScript
// KEYS: job, tier, queue delayed, delayed, stats, unique, cancelled.
// ARGV: id, now, unique flag, now ms.
// Returns -2 for an unknown job, -1 for an active one, 0 for a terminal
// one and 1 once cancelled.
var cancelScript = goredis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'state')
if not st then return -2 end
if st == 'active' then return -1 end
if st ~= 'pending' then return 0 end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'cancelled', 'updated_at', ARGV[2], 'completed_at', ARGV[2])
redis.call('HINCRBY', KEYS[5], 'cancelled', 1)
redis.call('ZADD', KEYS[7], ARGV[4], ARGV[1])
if ARGV[3] == '1' and redis.call('GET', KEYS[6]) == ARGV[1] then
  redis.call('DEL', KEYS[6])
end
return 1
`)

// promoteScript
// KEYS: delayed.
// ARGV: now ms, limit, prefix.
// Returns the number of jobs moved into their tiers.
var promoteScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, tonumber(ARGV[2]))
local moved = 0
for i = 1, #due, 2 do
  local jid = due[i]
  if redis.call('ZREM', KEYS[1], jid) == 1 then
    local f = redis.call('HMGET', ARGV[3] .. 'job:' .. jid, 'queue', 'priority')
    if f[1] then
      local qk = ARGV[3] .. 'queue:' .. f[1] .. ':'
      redis.call('ZREM', qk .. 'delayed', jid)
      redis.call('ZADD', qk .. f[2], due[i + 1], jid)
      moved = moved + 1
    end
  end
end
return moved
`)

// retryDLQScript
// KEYS: dlq, job, tier, unique.
// ARGV: id, now, now ms, unique flag, unique ttl ms, prefix.
// Returns 0 when the job is not dead-lettered and -1 when another live
// job holds its unique key.
var retryDLQScript = goredis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then return 0 end
if ARGV[4] == '1' then
  local holder = redis.call('GET', KEYS[4])
  if holder and holder ~= ARGV[1] then
    local st = redis.call('HGET', ARGV[6] .. 'job:' .. holder, 'state')
    if st == 'pending' or st == 'active' then return -1 end
  end
  local ttl = tonumber(ARGV[5])
  if ttl > 0 then
    redis.call('SET', KEYS[4], ARGV[1], 'PX', ttl)
  else
    redis.call('SET', KEYS[4], ARGV[1])
  end
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], 'state', 'pending', 'attempts', 0, 'scheduled_at', ARGV[2], 'updated_at', ARGV[2])
redis.call('HDEL', KEYS[2], 'worker_id', 'started_at', 'completed_at')
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

// dropScript
// ARGV: prefix, ids...
// KEYS: optional set the ids must belong to.
// Returns the number of jobs dropped.
var dropScript = goredis.NewScript(dropFn + `
local n = 0
for i = 2, #ARGV do
  if #KEYS == 0 or redis.call('ZSCORE', KEYS[1], ARGV[i]) then
    if drop(ARGV[1], ARGV[i]) then n = n + 1 end
  end
end
return n
`)

// trimScript drops set members scored before a cutoff, then the oldest
// members beyond a size bound.
// KEYS: set.
// ARGV: prefix, cutoff ms ('' skips the age bound), max size.
var trimScript = goredis.NewScript(dropFn + `
local n = 0
if ARGV[2] ~= '' then
  local old = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[2])
  for _, jid in ipairs(old) do
    drop(ARGV[1], jid)
    redis.call('ZREM', KEYS[1], jid)
    n = n + 1
  end
end
local max = tonumber(ARGV[3])
if max > 0 then
  local extra = redis.call('ZCARD', KEYS[1]) - max
  if extra > 0 then
    local old = redis.call('ZRANGE', KEYS[1], 0, extra - 1)
    for _, jid in ipairs(old) do
      drop(ARGV[1], jid)
      redis.call('ZREM', KEYS[1], jid)
      n = n + 1
    end
  end
end
return n
`)

// purgeQueueScript
// KEYS: queue delayed, then the queue's tier keys.
// ARGV: prefix.
var purgeQueueScript = goredis.NewScript(dropFn + `
local n = 0
for i = 1, #KEYS do
  local ids = redis.call('ZRANGE', KEYS[i], 0, -1)
  for _, jid in ipairs(ids) do
    drop(ARGV[1], jid)
    redis.call('ZREM', KEYS[i], jid)
    n = n + 1
  end
end
return n
`)

// createScheduleScript
// KEYS: scheduled, next, last.
// ARGV: name, record, next ('' for none), last ('' for none).
var createScheduleScript = goredis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then return 0 end
if ARGV[3] ~= '' then redis.call('HSET', KEYS[2], ARGV[1], ARGV[3]) end
if ARGV[4] ~= '' then redis.call('HSET', KEYS[3], ARGV[1], ARGV[4]) end
return 1
`)

// advanceScheduleScript moves a schedule's next fire time if it still
// holds the expected value.
// KEYS: scheduled, next, last.
// ARGV: name, expected, next, last ('' clears it).
// Returns -1 for an unknown schedule.
var advanceScheduleScript = goredis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[2], ARGV[1]) ~= ARGV[2] then return 0 end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
if ARGV[4] == '' then
  redis.call('HDEL', KEYS[3], ARGV[1])
else
  redis.call('HSET', KEYS[3], ARGV[1], ARGV[4])
end
return 1
`)

// renewLockScript and releaseLockScript act only for the lock's owner.
var renewLockScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

var releaseLockScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
