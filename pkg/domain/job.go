package domain

import (
	"encoding/json"
	"time"
)

// WorkerIdentity uniquely identifies a worker node. It is the key used
// by the job tracker and the name of the worker's private topic.
type WorkerIdentity = string

// Job is a unit of work owned by a single worker
type Job struct {
	WorkerID WorkerIdentity  `json:"worker_id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// NewJob creates a job for a worker carrying the given payload.
func NewJob(workerID WorkerIdentity, payload json.RawMessage) *Job {
	return &Job{WorkerID: workerID, Payload: payload}
}

// NewPlaceholder creates a claim placeholder for a worker.
func NewPlaceholder(workerID WorkerIdentity) *Job {
	return &Job{WorkerID: workerID}
}

// HasPayload reports whether the job still carries work.
func (j *Job) HasPayload() bool {
	if j == nil || len(j.Payload) == 0 {
		return false
	}
	return string(j.Payload) != "null"
}

// Clone returns a deep copy of the job
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := &Job{WorkerID: j.WorkerID}
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	return c
}

// WorkerSnapshot is the state a worker announces to the cluster when it
// registers.
type WorkerSnapshot struct {
	ID        WorkerIdentity `json:"id"`
	Host      string         `json:"host,omitempty"`
	StartedAt time.Time      `json:"started_at"`
}

// Update is a job result reported back to the tracker.
type Update struct {
	WorkerID   WorkerIdentity `json:"worker_id"`
	Job        *Job           `json:"job"`
	ReportedAt time.Time      `json:"reported_at"`
}
