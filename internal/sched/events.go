package sched

import "time"

// Event types published on the bus. The journal writer subscribes to these;
// anything else can too.
const (
	EventTaskAdmitted     = "task.admitted"
	EventTaskCompleted    = "task.completed"
	EventTaskFailed       = "task.failed"
	EventTaskRetry        = "task.retry"
	EventTaskCancelled    = "task.cancelled"
	EventDeadlineExceeded = "deadline.exceeded"
	EventBatchDispatched  = "batch.dispatched"
	EventRetentionSwept   = "retention.swept"
)

// TaskEvent is the payload for per-task lifecycle events.
type TaskEvent struct {
	ID        string
	Type      string
	Platform  string
	Target    string
	Status    TaskStatus
	Attempt   int
	DeviceID  string
	AccountID string
	Error     string
	At        time.Time
}

func taskEvent(t *Task, at time.Time) TaskEvent {
	return TaskEvent{
		ID:        t.ID,
		Type:      t.Type,
		Platform:  t.Platform,
		Target:    t.TargetUserID,
		Status:    t.Status,
		Attempt:   t.RetryCount,
		DeviceID:  t.AssignedDeviceID,
		AccountID: t.AssignedAccountID,
		Error:     t.ErrorMessage,
		At:        at,
	}
}

// BatchEvent is the payload for batch.dispatched.
type BatchEvent struct {
	BatchID  string
	Size     int
	Devices  []string
	Accounts []string
}

// SweepEvent is the payload for retention.swept.
type SweepEvent struct {
	Completed int
	Failed    int
	Cancelled int
}
