package queue

import "github.com/redis/go-redis/v9"

// KEYS: delayed, active, jobs. ARGV: now, limit, lease expiry.
// Returns a flat list of id, payload pairs. Ids already leased stay in
// delayed until the lease holder is done.
const claimLuaScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", "0", ARGV[2])
local out = {}
for _, id in ipairs(ids) do
    if not redis.call("ZSCORE", KEYS[2], id) then
        redis.call("ZREM", KEYS[1], id)
        local payload = redis.call("HGET", KEYS[3], id)
        if payload then
            redis.call("ZADD", KEYS[2], ARGV[3], id)
            table.insert(out, id)
            table.insert(out, payload)
        end
    end
end
return out
`

// KEYS: delayed, active, jobs. ARGV: id.
// The payload survives when the job was enqueued again while leased.
const ackLuaScript = `
redis.call("ZREM", KEYS[2], ARGV[1])
if not redis.call("ZSCORE", KEYS[1], ARGV[1]) then
    redis.call("HDEL", KEYS[3], ARGV[1])
end
return 1
`

// KEYS: delayed, active, jobs, dead. ARGV: id, payload, bury, retry at,
// dead record. Returns 0 when nothing was done, 1 when retried and 2 when
// buried.
const nackLuaScript = `
redis.call("ZREM", KEYS[2], ARGV[1])
if redis.call("ZSCORE", KEYS[1], ARGV[1]) then
    return 0
end
if redis.call("HEXISTS", KEYS[3], ARGV[1]) == 0 then
    return 0
end
if ARGV[3] == "1" then
    redis.call("HDEL", KEYS[3], ARGV[1])
    redis.call("LPUSH", KEYS[4], ARGV[5])
    return 2
end
redis.call("HSET", KEYS[3], ARGV[1], ARGV[2])
redis.call("ZADD", KEYS[1], ARGV[4], ARGV[1])
return 1
`

// KEYS: active, delayed, jobs. ARGV: now.
// Returns how many expired leases were put back.
const requeueLuaScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local n = 0
for _, id in ipairs(ids) do
    redis.call("ZREM", KEYS[1], id)
    if redis.call("HEXISTS", KEYS[3], id) == 1 then
        redis.call("ZADD", KEYS[2], "NX", ARGV[1], id)
        n = n + 1
    end
end
return n
`

// KEYS: active. ARGV: id, lease expiry.
// Returns 0 when the lease is gone, so the holder can tell it was lost.
const extendLuaScript = `
if not redis.call("ZSCORE", KEYS[1], ARGV[1]) then
    return 0
end
redis.call("ZADD", KEYS[1], "XX", ARGV[2], ARGV[1])
return 1
`

var (
	extendScript  = redis.NewScript(extendLuaScript)
	claimScript   = redis.NewScript(claimLuaScript)
	ackScript     = redis.NewScript(ackLuaScript)
	nackScript    = redis.NewScript(nackLuaScript)
	requeueScript = redis.NewScript(requeueLuaScript)
)
