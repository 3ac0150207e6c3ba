package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/scaleout/pkg/domain"
	"github.com/aescanero/scaleout/pkg/ports"
)

var (
	_ ports.JobTracker   = (*Tracker)(nil)
	_ ports.TrackerAdmin = (*Tracker)(nil)
)

// Tracker implements the job tracker on Redis. Multi-key writes go
// through a MULTI/EXEC pipeline.
type Tracker struct {
	client *redis.Client
	logger *zap.Logger
	closed atomic.Bool
}

// NewTracker creates a Redis tracker. The caller owns the client.
func NewTracker(client *redis.Client, logger *zap.Logger) *Tracker {
	return &Tracker{client: client, logger: logger}
}

// Ping verifies the Redis connection is alive
func (t *Tracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close marks the tracker shut down. Later calls return ErrTrackerClosed.
func (t *Tracker) Close() error {
	t.closed.Store(true)
	return nil
}

func (t *Tracker) AvailableForWork(ctx context.Context, id domain.WorkerIdentity) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := t.client.SAdd(ctx, availableKey, id).Err(); err != nil {
		return wrap("available for work", err)
	}
	return nil
}

func (t *Tracker) AddWorker(ctx context.Context, id domain.WorkerIdentity) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := t.client.HSet(ctx, workersKey, id, time.Now().UnixMilli()).Err(); err != nil {
		return wrap("add worker", err)
	}
	return nil
}

func (t *Tracker) RemoveWorker(ctx context.Context, id domain.WorkerIdentity) error {
	if err := t.check(); err != nil {
		return err
	}

	pipe := t.client.TxPipeline()
	pipe.HDel(ctx, workersKey, id)
	pipe.SRem(ctx, availableKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("remove worker", err)
	}
	return nil
}

func (t *Tracker) IsDone(ctx context.Context) (bool, error) {
	if err := t.check(); err != nil {
		return false, err
	}
	n, err := t.client.Exists(ctx, doneKey).Result()
	if err != nil {
		return false, wrap("is done", err)
	}
	return n > 0, nil
}

func (t *Tracker) NeedsReplicate(ctx context.Context, id domain.WorkerIdentity) (bool, error) {
	if err := t.check(); err != nil {
		return false, err
	}
	ok, err := t.client.SIsMember(ctx, replicateKey, id).Result()
	if err != nil {
		return false, wrap("needs replicate", err)
	}
	return ok, nil
}

func (t *Tracker) DoneReplicating(ctx context.Context, id domain.WorkerIdentity) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := t.client.SRem(ctx, replicateKey, id).Err(); err != nil {
		return wrap("done replicating", err)
	}
	return nil
}

func (t *Tracker) JobFor(ctx context.Context, id domain.WorkerIdentity) (*domain.Job, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.getJob(ctx, jobKey(id))
}

func (t *Tracker) WorkerEnabled(ctx context.Context, id domain.WorkerIdentity) (bool, error) {
	if err := t.check(); err != nil {
		return false, err
	}
	disabled, err := t.client.SIsMember(ctx, disabledKey, id).Result()
	if err != nil {
		return false, wrap("worker enabled", err)
	}
	return !disabled, nil
}

func (t *Tracker) ClearJob(ctx context.Context, id domain.WorkerIdentity) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := t.client.Del(ctx, jobKey(id)).Err(); err != nil {
		return wrap("clear job", err)
	}
	return nil
}

func (t *Tracker) UpdateJob(ctx context.Context, job *domain.Job) error {
	if err := t.check(); err != nil {
		return err
	}
	return t.setJob(ctx, jobKey(job.WorkerID), job)
}

func (t *Tracker) GetCurrent(ctx context.Context) (*domain.Job, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.getJob(ctx, currentKey)
}

func (t *Tracker) AddUpdate(ctx context.Context, id domain.WorkerIdentity, job *domain.Job) error {
	if err := t.check(); err != nil {
		return err
	}

	data, err := json.Marshal(domain.Update{WorkerID: id, Job: job, ReportedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("tracker/redis: marshal update: %w", err)
	}
	if err := t.client.RPush(ctx, updatesKey, data).Err(); err != nil {
		return wrap("add update", err)
	}

	t.logger.Debug("update reported", zap.String("worker_id", id))
	return nil
}

// AssignJob stores a job for its owner
func (t *Tracker) AssignJob(ctx context.Context, job *domain.Job) error {
	return t.UpdateJob(ctx, job)
}

func (t *Tracker) SetWorkerEnabled(ctx context.Context, id domain.WorkerIdentity, enabled bool) error {
	if err := t.check(); err != nil {
		return err
	}
	var err error
	if enabled {
		err = t.client.SRem(ctx, disabledKey, id).Err()
	} else {
		err = t.client.SAdd(ctx, disabledKey, id).Err()
	}
	if err != nil {
		return wrap("set worker enabled", err)
	}
	return nil
}

func (t *Tracker) FlagReplicate(ctx context.Context, id domain.WorkerIdentity) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := t.client.SAdd(ctx, replicateKey, id).Err(); err != nil {
		return wrap("flag replicate", err)
	}
	return nil
}

func (t *Tracker) SetCurrent(ctx context.Context, job *domain.Job) error {
	if err := t.check(); err != nil {
		return err
	}
	return t.setJob(ctx, currentKey, job)
}

func (t *Tracker) Finish(ctx context.Context) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := t.client.Set(ctx, doneKey, "1", 0).Err(); err != nil {
		return wrap("finish", err)
	}
	return nil
}

// Workers returns live workers sorted by identity
func (t *Tracker) Workers(ctx context.Context) ([]domain.WorkerIdentity, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	ids, err := t.client.HKeys(ctx, workersKey).Result()
	if err != nil {
		return nil, wrap("workers", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// LastSeen returns when a worker last refreshed its liveness
func (t *Tracker) LastSeen(ctx context.Context, id domain.WorkerIdentity) (time.Time, error) {
	if err := t.check(); err != nil {
		return time.Time{}, err
	}
	v, err := t.client.HGet(ctx, workersKey, id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, wrap("last seen", err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("tracker/redis: parse last seen: %w", err)
	}
	return time.UnixMilli(ms), nil
}

func (t *Tracker) Updates(ctx context.Context) ([]domain.Update, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	raw, err := t.client.LRange(ctx, updatesKey, 0, -1).Result()
	if err != nil {
		return nil, wrap("updates", err)
	}

	updates := make([]domain.Update, 0, len(raw))
	for _, r := range raw {
		var u domain.Update
		if err := json.Unmarshal([]byte(r), &u); err != nil {
			t.logger.Warn("skipping malformed update", zap.Error(err))
			continue
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func (t *Tracker) getJob(ctx context.Context, key string) (*domain.Job, error) {
	data, err := t.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, wrap("get job", err)
	}

	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("tracker/redis: unmarshal job: %w", err)
	}
	return &job, nil
}

func (t *Tracker) setJob(ctx context.Context, key string, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("tracker/redis: marshal job: %w", err)
	}
	if err := t.client.Set(ctx, key, data, 0).Err(); err != nil {
		return wrap("set job", err)
	}
	return nil
}

func (t *Tracker) check() error {
	if t.closed.Load() {
		return domain.ErrTrackerClosed
	}
	return nil
}

// wrap maps a closed client onto ErrTrackerClosed
func wrap(op string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("tracker/redis: %s: %w", op, domain.ErrTrackerClosed)
	}
	return fmt.Errorf("tracker/redis: %s: %w", op, err)
}
