package ports

import "time"

// MetricsCollector records worker activity
type MetricsCollector interface {
	RecordTick()
	RecordJobExecuted(status string, duration time.Duration)
	RecordStaleCleared()
	RecordReplication()
	RecordRestart()
	SetBusy(busy bool)
}
