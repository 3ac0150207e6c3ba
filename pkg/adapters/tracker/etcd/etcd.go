package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/aescanero/scaleout/pkg/domain"
	"github.com/aescanero/scaleout/pkg/ports"
)

// DefaultPrefix is the root of the tracker schema in etcd
const DefaultPrefix = "/scaleout/tracker/"

var (
	_ ports.JobTracker   = (*Tracker)(nil)
	_ ports.TrackerAdmin = (*Tracker)(nil)
)

// Tracker implements the job tracker on etcd. Each fact is a key, so
// set membership is key existence.
type Tracker struct {
	client *clientv3.Client
	prefix string
	logger *zap.Logger
	closed atomic.Bool
}

// NewTracker creates an etcd tracker rooted at prefix. The caller owns
// the client.
func NewTracker(client *clientv3.Client, prefix string, logger *zap.Logger) *Tracker {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Tracker{client: client, prefix: prefix, logger: logger}
}

// Close marks the tracker shut down
func (t *Tracker) Close() error {
	t.closed.Store(true)
	return nil
}

func (t *Tracker) key(parts ...string) string {
	return t.prefix + strings.Join(parts, "/")
}

func (t *Tracker) AvailableForWork(ctx context.Context, id domain.WorkerIdentity) error {
	return t.put(ctx, "available for work", t.key("available", id), "1")
}

func (t *Tracker) AddWorker(ctx context.Context, id domain.WorkerIdentity) error {
	return t.put(ctx, "add worker", t.key("workers", id), time.Now().UTC().Format(time.RFC3339Nano))
}

func (t *Tracker) RemoveWorker(ctx context.Context, id domain.WorkerIdentity) error {
	if err := t.check(); err != nil {
		return err
	}
	_, err := t.client.Txn(ctx).Then(
		clientv3.OpDelete(t.key("workers", id)),
		clientv3.OpDelete(t.key("available", id)),
	).Commit()
	if err != nil {
		return t.wrap("remove worker", err)
	}
	return nil
}

func (t *Tracker) IsDone(ctx context.Context) (bool, error) {
	return t.exists(ctx, "is done", t.key("done"))
}

func (t *Tracker) NeedsReplicate(ctx context.Context, id domain.WorkerIdentity) (bool, error) {
	return t.exists(ctx, "needs replicate", t.key("replicate", id))
}

func (t *Tracker) DoneReplicating(ctx context.Context, id domain.WorkerIdentity) error {
	return t.del(ctx, "done replicating", t.key("replicate", id))
}

func (t *Tracker) JobFor(ctx context.Context, id domain.WorkerIdentity) (*domain.Job, error) {
	return t.getJob(ctx, t.key("jobs", id))
}

func (t *Tracker) WorkerEnabled(ctx context.Context, id domain.WorkerIdentity) (bool, error) {
	disabled, err := t.exists(ctx, "worker enabled", t.key("disabled", id))
	if err != nil {
		return false, err
	}
	return !disabled, nil
}

func (t *Tracker) ClearJob(ctx context.Context, id domain.WorkerIdentity) error {
	return t.del(ctx, "clear job", t.key("jobs", id))
}

func (t *Tracker) UpdateJob(ctx context.Context, job *domain.Job) error {
	return t.putJSON(ctx, "update job", t.key("jobs", job.WorkerID), job)
}

func (t *Tracker) GetCurrent(ctx context.Context) (*domain.Job, error) {
	return t.getJob(ctx, t.key("current"))
}

func (t *Tracker) AddUpdate(ctx context.Context, id domain.WorkerIdentity, job *domain.Job) error {
	now := time.Now().UTC()
	key := t.key("updates", fmt.Sprintf("%020d-%s", now.UnixNano(), id))
	return t.putJSON(ctx, "add update", key, domain.Update{WorkerID: id, Job: job, ReportedAt: now})
}

// AssignJob stores a job for its owner
func (t *Tracker) AssignJob(ctx context.Context, job *domain.Job) error {
	return t.UpdateJob(ctx, job)
}

func (t *Tracker) SetWorkerEnabled(ctx context.Context, id domain.WorkerIdentity, enabled bool) error {
	if enabled {
		return t.del(ctx, "set worker enabled", t.key("disabled", id))
	}
	return t.put(ctx, "set worker enabled", t.key("disabled", id), "1")
}

func (t *Tracker) FlagReplicate(ctx context.Context, id domain.WorkerIdentity) error {
	return t.put(ctx, "flag replicate", t.key("replicate", id), "1")
}

func (t *Tracker) SetCurrent(ctx context.Context, job *domain.Job) error {
	return t.putJSON(ctx, "set current", t.key("current"), job)
}

func (t *Tracker) Finish(ctx context.Context) error {
	return t.put(ctx, "finish", t.key("done"), "1")
}

// Workers returns live workers sorted by identity
func (t *Tracker) Workers(ctx context.Context) ([]domain.WorkerIdentity, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	dir := t.key("workers") + "/"
	resp, err := t.client.Get(ctx, dir, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, t.wrap("workers", err)
	}

	ids := make([]domain.WorkerIdentity, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ids = append(ids, strings.TrimPrefix(string(kv.Key), dir))
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *Tracker) Updates(ctx context.Context) ([]domain.Update, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	resp, err := t.client.Get(ctx, t.key("updates")+"/",
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, t.wrap("updates", err)
	}

	updates := make([]domain.Update, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var u domain.Update
		if err := json.Unmarshal(kv.Value, &u); err != nil {
			t.logger.Warn("skipping malformed update", zap.String("key", string(kv.Key)), zap.Error(err))
			continue
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func (t *Tracker) exists(ctx context.Context, op, key string) (bool, error) {
	if err := t.check(); err != nil {
		return false, err
	}
	resp, err := t.client.Get(ctx, key, clientv3.WithCountOnly())
	if err != nil {
		return false, t.wrap(op, err)
	}
	return resp.Count > 0, nil
}

func (t *Tracker) getJob(ctx context.Context, key string) (*domain.Job, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	resp, err := t.client.Get(ctx, key)
	if err != nil {
		return nil, t.wrap("get job", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	var job domain.Job
	if err := json.Unmarshal(resp.Kvs[0].Value, &job); err != nil {
		return nil, fmt.Errorf("tracker/etcd: unmarshal job: %w", err)
	}
	return &job, nil
}

func (t *Tracker) putJSON(ctx context.Context, op, key string, val interface{}) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("tracker/etcd: %s: marshal: %w", op, err)
	}
	return t.put(ctx, op, key, string(data))
}

func (t *Tracker) put(ctx context.Context, op, key, val string) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, err := t.client.Put(ctx, key, val); err != nil {
		return t.wrap(op, err)
	}
	return nil
}

func (t *Tracker) del(ctx context.Context, op, key string) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, err := t.client.Delete(ctx, key); err != nil {
		return t.wrap(op, err)
	}
	return nil
}

func (t *Tracker) check() error {
	if t.closed.Load() {
		return domain.ErrTrackerClosed
	}
	return nil
}

// wrap maps errors from a closed client onto ErrTrackerClosed
func (t *Tracker) wrap(op string, err error) error {
	if t.client.Ctx().Err() != nil {
		return fmt.Errorf("tracker/etcd: %s: %w", op, domain.ErrTrackerClosed)
	}
	return fmt.Errorf("tracker/etcd: %s: %w", op, err)
}
