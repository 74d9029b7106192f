package data

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeforge/forge/internal/core"
	"github.com/codeforge/forge/internal/domain/model"
	apperrors "github.com/codeforge/forge/internal/errors"
)

// Redis key layout. Jobs are hashes; each project has a sorted set of job
// ids scored by creation time; queued job ids live in a plain set so
// workers can poll without scanning.
const (
	jobKeyPrefix     = "job:"
	projectKeyPrefix = "project_jobs:"
	pendingSetKey    = "pending_jobs"
)

// RedisStore is a JobStore backed by Redis, for deployments where several
// worker processes share one queue. Every mutation is a single server-side
// script, so the state-machine rules hold under concurrent writers.
type RedisStore struct {
	client   redis.UniversalClient
	timeProv TimeProvider
	ttl      time.Duration
}

// RedisStoreOptions configures a RedisStore.
type RedisStoreOptions struct {
	Client       redis.UniversalClient
	TimeProvider TimeProvider  // defaults to RealTimeProvider
	CompletedTTL time.Duration // defaults to CompletedJobTTL
}

// NewRedisStore creates a RedisStore. The client is required.
func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("redis store: client is required")
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	ttl := opts.CompletedTTL
	if ttl <= 0 {
		ttl = CompletedJobTTL
	}
	return &RedisStore{client: opts.Client, timeProv: tp, ttl: ttl}, nil
}

var _ core.JobStore = (*RedisStore)(nil)

// updateScript applies one job update atomically. It mirrors applyUpdate:
// frozen jobs are untouched, an error forces failed, illegal status edges
// void the whole update, running stamps started_at once, terminal statuses
// stamp completed_at and schedule expiry, and progress never decreases.
//
// KEYS[1] job hash, KEYS[2] pending set.
// ARGV: 1 job id, 2 now, 3 status, 4 progress, 5 result, 6 error,
// 7 clarification, 8 terminal TTL seconds. Empty string means unset.
var updateScript = redis.NewScript(`
local function frozen(s)
  return s == 'completed' or s == 'failed' or s == 'cancelled' or s == 'waiting_for_input'
end
local function terminal(s)
  return s == 'completed' or s == 'failed' or s == 'cancelled'
end

if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local cur = redis.call('HGET', KEYS[1], 'status')
if frozen(cur) then
  return 0
end

local status = ARGV[3]
if ARGV[6] ~= '' then
  status = 'failed'
end

if status ~= '' and status ~= cur then
  local ok = false
  if cur == 'queued' then
    ok = status == 'running' or status == 'cancelled' or status == 'failed'
  elseif cur == 'running' then
    ok = status == 'completed' or status == 'failed' or status == 'cancelled' or status == 'waiting_for_input'
  end
  if not ok then
    return 0
  end
  redis.call('HSET', KEYS[1], 'status', status)
  if status == 'running' and redis.call('HEXISTS', KEYS[1], 'started_at') == 0 then
    redis.call('HSET', KEYS[1], 'started_at', ARGV[2])
  end
  if status ~= 'queued' then
    redis.call('SREM', KEYS[2], ARGV[1])
  end
  if terminal(status) then
    redis.call('HSET', KEYS[1], 'completed_at', ARGV[2])
    local ttl = tonumber(ARGV[8])
    if ttl and ttl > 0 then
      redis.call('EXPIRE', KEYS[1], ttl)
    end
  end
end

if ARGV[4] ~= '' then
  local p = tonumber(ARGV[4])
  if p < 0 then p = 0 end
  if p > 100 then p = 100 end
  local cur_p = tonumber(redis.call('HGET', KEYS[1], 'progress')) or 0
  if p > cur_p then
    redis.call('HSET', KEYS[1], 'progress', tostring(p))
  end
end
if ARGV[5] ~= '' then
  redis.call('HSET', KEYS[1], 'result', ARGV[5])
end
if ARGV[6] ~= '' then
  redis.call('HSET', KEYS[1], 'error', ARGV[6])
end
if ARGV[7] ~= '' then
  redis.call('HSET', KEYS[1], 'clarification_data', ARGV[7])
end
return 1
`)

// claimScript moves a queued job to running in one round trip.
// KEYS[1] job hash, KEYS[2] pending set.
// ARGV: 1 job id, 2 now, 3 pickup progress.
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if redis.call('HGET', KEYS[1], 'status') ~= 'queued' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'running', 'started_at', ARGV[2])
local cur_p = tonumber(redis.call('HGET', KEYS[1], 'progress')) or 0
local p = tonumber(ARGV[3])
if p > cur_p then
  redis.call('HSET', KEYS[1], 'progress', ARGV[3])
end
redis.call('SREM', KEYS[2], ARGV[1])
return 1
`)

func jobKey(id string) string         { return jobKeyPrefix + id }
func projectKey(project string) string { return projectKeyPrefix + project }

// Create stores a new queued job, indexes it under its project and adds it
// to the pending set, all in one transaction.
func (s *RedisStore) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	job := newJobFromRequest(req, s.timeProv.Now())

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), jobToFields(job))
	pipe.ZAdd(ctx, projectKey(job.ProjectID), redis.Z{
		Score:  float64(job.CreatedAt.UnixMilli()) / 1000.0,
		Member: job.ID,
	})
	pipe.SAdd(ctx, pendingSetKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis create job")
	}
	return job, nil
}

// Get returns the job, or nil when it does not exist.
func (s *RedisStore) Get(ctx context.Context, id string) (*model.Job, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis get job")
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return jobFromFields(fields)
}

// Update applies params atomically and returns the resulting job. Unknown
// ids return nil without error.
func (s *RedisStore) Update(ctx context.Context, id string, params core.UpdateJobParams) (*model.Job, error) {
	var status, progress, result, errMsg, clarification string
	if params.Status != nil {
		status = string(*params.Status)
	}
	if params.Progress != nil {
		progress = formatProgress(*params.Progress)
	}
	if params.Result != nil {
		result = string(params.Result)
	}
	if params.Error != nil {
		errMsg = *params.Error
	}
	if params.Clarification != nil {
		clarification = string(params.Clarification)
	}

	now := s.timeProv.Now().UTC().Format(time.RFC3339Nano)
	keys := []string{jobKey(id), pendingSetKey}
	argv := []any{id, now, status, progress, result, errMsg, clarification, int64(s.ttl.Seconds())}
	if err := updateScript.Run(ctx, s.client, keys, argv...).Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis update job")
	}
	return s.Get(ctx, id)
}

// TryClaim atomically moves a queued job to running. It reports whether
// this caller won the claim.
func (s *RedisStore) TryClaim(ctx context.Context, id string) (bool, error) {
	now := s.timeProv.Now().UTC().Format(time.RFC3339Nano)
	keys := []string{jobKey(id), pendingSetKey}
	argv := []any{id, now, formatProgress(model.ProgressStarted)}
	won, err := claimScript.Run(ctx, s.client, keys, argv...).Int()
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis claim job")
	}
	return won == 1, nil
}

// ListForProject returns a page of the project's jobs, newest first.
// Pages are 1-based. Records that expired out from under the index are
// skipped; Total still reflects the index size.
func (s *RedisStore) ListForProject(ctx context.Context, projectID string, page, pageSize int) (*model.JobPage, error) {
	page, pageSize = core.NormalizePage(page, pageSize)

	key := projectKey(projectID)
	total, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis count project jobs")
	}

	result := &model.JobPage{
		Jobs:     []*model.Job{},
		Total:    int(total),
		Page:     page,
		PageSize: pageSize,
	}

	start := int64(page-1) * int64(pageSize)
	stop := start + int64(pageSize) - 1
	ids, err := s.client.ZRevRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis list project jobs")
	}
	if len(ids) == 0 {
		return result, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis fetch project jobs")
	}
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue // expired record, index entry is swept later
		}
		job, err := jobFromFields(fields)
		if err != nil {
			return nil, err
		}
		result.Jobs = append(result.Jobs, job)
	}
	return result, nil
}

// ListPending returns all queued jobs, oldest first. Pending-set entries
// whose record is gone or no longer queued are skipped.
func (s *RedisStore) ListPending(ctx context.Context) ([]*model.Job, error) {
	ids, err := s.client.SMembers(ctx, pendingSetKey).Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis list pending")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis fetch pending jobs")
	}

	var out []*model.Job
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		job, err := jobFromFields(fields)
		if err != nil {
			return nil, err
		}
		if job.Status == model.JobStatusQueued {
			out = append(out, job)
		}
	}
	sortJobsByCreated(out)
	return out, nil
}

// Cleanup deletes terminal jobs that finished more than olderThan ago.
// Expiry normally handles retention; this is the backstop for records
// written before a TTL change and for index hygiene.
func (s *RedisStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := float64(s.timeProv.Now().Add(-olderThan).UnixMilli()) / 1000.0
	var removed int64

	iter := s.client.Scan(ctx, 0, projectKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		indexKey := iter.Val()
		ids, err := s.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatFloat(cutoff, 'f', -1, 64),
		}).Result()
		if err != nil {
			return removed, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis cleanup range")
		}
		for _, id := range ids {
			job, err := s.Get(ctx, id)
			if err != nil {
				return removed, err
			}
			if job == nil || !job.Status.Terminal() {
				continue
			}
			if job.CompletedAt != nil && float64(job.CompletedAt.UnixMilli())/1000.0 > cutoff {
				continue
			}
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, jobKey(id))
			pipe.ZRem(ctx, indexKey, id)
			if _, err := pipe.Exec(ctx); err != nil {
				return removed, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis cleanup delete")
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis cleanup scan")
	}
	return removed, nil
}

// SweepIndexes drops index and pending-set entries whose job record has
// expired, and returns how many entries were dropped.
func (s *RedisStore) SweepIndexes(ctx context.Context) (int64, error) {
	var dropped int64

	iter := s.client.Scan(ctx, 0, projectKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		indexKey := iter.Val()
		ids, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
		if err != nil {
			return dropped, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis sweep range")
		}
		for _, id := range ids {
			exists, err := s.client.Exists(ctx, jobKey(id)).Result()
			if err != nil {
				return dropped, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis sweep exists")
			}
			if exists == 0 {
				if err := s.client.ZRem(ctx, indexKey, id).Err(); err != nil {
					return dropped, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis sweep zrem")
				}
				dropped++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return dropped, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis sweep scan")
	}

	pending, err := s.client.SMembers(ctx, pendingSetKey).Result()
	if err != nil {
		return dropped, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis sweep pending")
	}
	for _, id := range pending {
		exists, err := s.client.Exists(ctx, jobKey(id)).Result()
		if err != nil {
			return dropped, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis sweep pending exists")
		}
		if exists == 0 {
			if err := s.client.SRem(ctx, pendingSetKey, id).Err(); err != nil {
				return dropped, apperrors.Wrap(err, apperrors.ErrCodeStore, "redis sweep srem")
			}
			dropped++
		}
	}
	return dropped, nil
}
