package redis

const (
	// addAttemptScript atomically stores an attempt and its indexes
	addAttemptScript = `
local attempt_key = KEYS[1]   -- petwatch:attempt:{id}
local global_index = KEYS[2]  -- petwatch:attempts
local pet_index = KEYS[3]     -- petwatch:attempts:pet:{petID}

local id = ARGV[1]
local score = ARGV[2]

redis.call('HSET', attempt_key,
  'id', id,
  'session_id', ARGV[3],
  'pet_id', ARGV[4],
  'lat', ARGV[5],
  'lon', ARGV[6],
  'sampled_at', ARGV[7],
  'attempted_at', ARGV[8],
  'success', ARGV[9],
  'status_code', ARGV[10],
  'error_kind', ARGV[11],
  'message', ARGV[12],
  'duration_ms', ARGV[13]
)

redis.call('ZADD', global_index, score, id)
redis.call('ZADD', pet_index, score, id)

return 'OK'
`

	// deleteAttemptsBeforeScript removes every attempt scored below the cutoff
	// together with its per-pet index entry
	deleteAttemptsBeforeScript = `
local global_index = KEYS[1]  -- petwatch:attempts

local cutoff = ARGV[1]
local prefix = ARGV[2]        -- petwatch:

local ids = redis.call('ZRANGEBYSCORE', global_index, '-inf', '(' .. cutoff)
local deleted = 0

for _, id in ipairs(ids) do
  local attempt_key = prefix .. 'attempt:' .. id
  local pet_id = redis.call('HGET', attempt_key, 'pet_id')
  if pet_id then
    redis.call('ZREM', prefix .. 'attempts:pet:' .. pet_id, id)
  end
  redis.call('DEL', attempt_key)
  redis.call('ZREM', global_index, id)
  deleted = deleted + 1
end

return deleted
`
)
