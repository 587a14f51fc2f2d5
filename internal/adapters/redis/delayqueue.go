package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/event-ticketing/internal/clock"
	"github.com/robertarktes/event-ticketing/internal/scheduler"
)

// claimScript moves due jobs to their lease deadline and returns
// id/payload pairs. Jobs without a payload are dropped.
const claimScript = `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[3])
local out = {}
for _, id in ipairs(due) do
	local payload = redis.call('HGET', KEYS[2], id)
	if payload then
		redis.call('ZADD', KEYS[1], ARGV[2], id)
		table.insert(out, id)
		table.insert(out, payload)
	else
		redis.call('ZREM', KEYS[1], id)
	end
end
return out
`

// ackScript removes a job only while it still carries the claimed lease.
const ackScript = `
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) == tonumber(ARGV[2]) then
	redis.call('ZREM', KEYS[1], ARGV[1])
	redis.call('HDEL', KEYS[2], ARGV[1])
	return 1
end
return 0
`

// DelayQueue keeps job fire times in a sorted set (score = unix millis) and
// payloads in a hash, both keyed by job id.
type DelayQueue struct {
	client      redis.Cmdable
	clock       clock.Clock
	scheduleKey string
	payloadKey  string
}

func NewDelayQueue(client redis.Cmdable, clk clock.Clock, name string) *DelayQueue {
	return &DelayQueue{
		client:      client,
		clock:       clk,
		scheduleKey: "dq:" + name + ":schedule",
		payloadKey:  "dq:" + name + ":payload",
	}
}

func (q *DelayQueue) Enqueue(ctx context.Context, jobID string, payload []byte, delay time.Duration) error {
	fireAt := q.clock.Now().Add(delay).UnixMilli()
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.payloadKey, jobID, string(payload))
		pipe.ZAdd(ctx, q.scheduleKey, redis.Z{Score: float64(fireAt), Member: jobID})
		return nil
	})
	return errors.Wrapf(err, "enqueue %s", jobID)
}

func (q *DelayQueue) Cancel(ctx context.Context, jobID string) (bool, error) {
	var removed *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, q.scheduleKey, jobID)
		pipe.HDel(ctx, q.payloadKey, jobID)
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "cancel %s", jobID)
	}
	return removed.Val() > 0, nil
}

// GetJob reports the pending fire time (or lease deadline) of a job.
func (q *DelayQueue) GetJob(ctx context.Context, jobID string) (time.Time, bool, error) {
	score, err := q.client.ZScore(ctx, q.scheduleKey, jobID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(score)).UTC(), true, nil
}

func (q *DelayQueue) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]scheduler.Job, error) {
	leaseUntil := now.Add(lease).UnixMilli()
	res, err := q.client.Eval(ctx, claimScript,
		[]string{q.scheduleKey, q.payloadKey},
		now.UnixMilli(), leaseUntil, limit,
	).Slice()
	if err != nil {
		return nil, errors.Wrap(err, "claim due jobs")
	}

	jobs := make([]scheduler.Job, 0, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		id, _ := res[i].(string)
		payload, _ := res[i+1].(string)
		jobs = append(jobs, scheduler.Job{
			ID:         id,
			Payload:    []byte(payload),
			LeaseUntil: time.UnixMilli(leaseUntil).UTC(),
		})
	}
	return jobs, nil
}

func (q *DelayQueue) Ack(ctx context.Context, job scheduler.Job) error {
	err := q.client.Eval(ctx, ackScript,
		[]string{q.scheduleKey, q.payloadKey},
		job.ID, strconv.FormatInt(job.LeaseUntil.UnixMilli(), 10),
	).Err()
	return errors.Wrapf(err, "ack %s", job.ID)
}
