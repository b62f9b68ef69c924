package redisstore

import "github.com/redis/go-redis/v9"

const (
	rotateStatusNotFound  int64 = 0
	rotateStatusNotActive int64 = 1
	rotateStatusExpired   int64 = 2
	rotateStatusRotated   int64 = 3
	rotateStatusDuplicate int64 = 4
)

// KEYS: record, chain, chain token list, subject index.
// ARGV: token id, chain id, subject id, created ms, ttl ms, record field/value pairs...
const createChainScript = `
local rec_key = KEYS[1]
local chain_key = KEYS[2]
local list_key = KEYS[3]
local subject_key = KEYS[4]

if redis.call("EXISTS", rec_key) == 1 or redis.call("EXISTS", chain_key) == 1 then
  return 0
end

redis.call("HSET", rec_key, unpack(ARGV, 6))
redis.call("HSET", chain_key, "sub", ARGV[3], "created", ARGV[4], "tip", ARGV[1], "revoked", "0")
redis.call("RPUSH", list_key, ARGV[1])
redis.call("SADD", subject_key, ARGV[2])

redis.call("PEXPIRE", rec_key, ARGV[5])
redis.call("PEXPIRE", chain_key, ARGV[5])
redis.call("PEXPIRE", list_key, ARGV[5])
return 1
`

var createChainLua = redis.NewScript(createChainScript)

// KEYS: parent record, child record.
// ARGV: prefix, parent id, child id, now ms, ttl ms, child field/value pairs...
const rotateScript = `
local parent_key = KEYS[1]
local child_key = KEYS[2]
local prefix = ARGV[1]
local parent_id = ARGV[2]
local child_id = ARGV[3]
local now_raw = ARGV[4]
local now_ms = tonumber(now_raw)
local ttl_ms = ARGV[5]

if redis.call("EXISTS", parent_key) == 0 then
  return {0}
end

local before = redis.call("HGETALL", parent_key)
local f = redis.call("HMGET", parent_key, "cid", "sub", "state", "exp", "child")
local chain_id = f[1]
local subject_id = f[2]
local state = f[3]
local expires_at = tonumber(f[4])
local child = f[5]

if not chain_id then
  return {1, before}
end

local chain_key = prefix .. ":ch:" .. chain_id
local list_key = prefix .. ":cht:" .. chain_id

local revoked = redis.call("HGET", chain_key, "revoked")
if not revoked or revoked ~= "0" then
  return {1, before}
end
if state ~= "ACTIVE" then
  return {1, before}
end
if not expires_at or expires_at <= now_ms then
  return {2, before}
end
if child and child ~= "" then
  return {1, before}
end
if redis.call("EXISTS", child_key) == 1 then
  return {4, before}
end

redis.call("HSET", parent_key, "state", "ROTATED", "consumed", now_raw, "child", child_id)
redis.call("HSET", child_key, "tid", child_id, "cid", chain_id, "sub", subject_id, "parent", parent_id, "state", "ACTIVE", unpack(ARGV, 6))
redis.call("HSET", chain_key, "tip", child_id)
redis.call("RPUSH", list_key, child_id)

local ids = redis.call("LRANGE", list_key, 0, -1)
for _, id in ipairs(ids) do
  redis.call("PEXPIRE", prefix .. ":rt:" .. id, ttl_ms)
end
redis.call("PEXPIRE", chain_key, ttl_ms)
redis.call("PEXPIRE", list_key, ttl_ms)

return {3, before}
`

var rotateLua = redis.NewScript(rotateScript)

// KEYS: chain, chain token list.
// ARGV: prefix, now ms.
const revokeChainScript = `
local chain_key = KEYS[1]
local list_key = KEYS[2]
local prefix = ARGV[1]
local now_raw = ARGV[2]

if redis.call("EXISTS", chain_key) == 0 then
  return {0}
end

local revoked = redis.call("HGET", chain_key, "revoked")
if not revoked or revoked == "0" then
  redis.call("HSET", chain_key, "revoked", now_raw)
end

local out = {1}
local ids = redis.call("LRANGE", list_key, 0, -1)
for _, id in ipairs(ids) do
  local key = prefix .. ":rt:" .. id
  if redis.call("EXISTS", key) == 1 then
    if redis.call("HGET", key, "state") ~= "REVOKED" then
      redis.call("HSET", key, "state", "REVOKED", "revoked", now_raw)
    end
    table.insert(out, redis.call("HGETALL", key))
  end
end
return out
`

var revokeChainLua = redis.NewScript(revokeChainScript)
