package sched

import (
	"fmt"
	"time"
)

// taskQueue holds the five partitions. It is owned by the actor goroutine
// and is never touched from anywhere else; none of its methods lock.
//
// Partition membership mirrors Task.Status exactly: a task sits in the
// pending slice iff its status is PENDING, and so on. move() is the only
// way a task changes partition, so the membership invariant and the state
// machine are enforced at a single point.
type taskQueue struct {
	pending    []*Task
	processing map[string]*Task
	completed  []*Task
	failed     []*Task
	cancelled  []*Task

	index map[string]*Task
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		processing: make(map[string]*Task),
		index:      make(map[string]*Task),
	}
}

func (q *taskQueue) get(id string) (*Task, bool) {
	t, ok := q.index[id]
	return t, ok
}

func (q *taskQueue) has(id string) bool {
	_, ok := q.index[id]
	return ok
}

// addPending inserts a validated task into the pending partition.
// The caller re-sorts afterwards.
func (q *taskQueue) addPending(t *Task) {
	t.Status = StatusPending
	q.pending = append(q.pending, t)
	q.index[t.ID] = t
}

// move transitions a task between partitions, enforcing the state machine
// and stamping UpdatedAt. Field updates beyond the status (CompletedAt,
// error messages, retry counters) belong to the caller.
func (q *taskQueue) move(t *Task, to TaskStatus, now time.Time) error {
	if !canTransition(t.Status, to) {
		return fmt.Errorf("transition %s -> %s not allowed for task %s", t.Status, to, t.ID)
	}
	q.detach(t)
	t.Status = to
	t.UpdatedAt = now
	switch to {
	case StatusPending:
		q.pending = append(q.pending, t)
	case StatusExecuting:
		q.processing[t.ID] = t
	case StatusCompleted:
		q.completed = append(q.completed, t)
	case StatusFailed:
		q.failed = append(q.failed, t)
	case StatusCancelled:
		q.cancelled = append(q.cancelled, t)
	}
	return nil
}

// detach removes the task from its current partition (index entry stays).
func (q *taskQueue) detach(t *Task) {
	switch t.Status {
	case StatusPending:
		q.pending = removeTask(q.pending, t.ID)
	case StatusExecuting:
		delete(q.processing, t.ID)
	case StatusCompleted:
		q.completed = removeTask(q.completed, t.ID)
	case StatusFailed:
		q.failed = removeTask(q.failed, t.ID)
	case StatusCancelled:
		q.cancelled = removeTask(q.cancelled, t.ID)
	}
}

// drop evicts a task entirely (retention sweep).
func (q *taskQueue) drop(t *Task) {
	q.detach(t)
	delete(q.index, t.ID)
}

func removeTask(list []*Task, id string) []*Task {
	for i, t := range list {
		if t.ID == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func (q *taskQueue) pendingLen() int    { return len(q.pending) }
func (q *taskQueue) processingLen() int { return len(q.processing) }

// snapshot returns deep copies of every partition. Terminal partitions come
// back in transition order, processing in unspecified order.
func (q *taskQueue) snapshot() QueueState {
	st := QueueState{
		Pending:    copyTasks(q.pending),
		Completed:  copyTasks(q.completed),
		Failed:     copyTasks(q.failed),
		Cancelled:  copyTasks(q.cancelled),
		Processing: make([]Task, 0, len(q.processing)),
	}
	for _, t := range q.processing {
		st.Processing = append(st.Processing, copyTask(t))
	}
	return st
}

func copyTasks(list []*Task) []Task {
	out := make([]Task, 0, len(list))
	for _, t := range list {
		out = append(out, copyTask(t))
	}
	return out
}

// copyTask returns a defensive copy: observers must not be able to mutate
// queue-internal state through a returned task.
func copyTask(t *Task) Task {
	cp := *t
	if t.Deadline != nil {
		d := *t.Deadline
		cp.Deadline = &d
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		cp.CompletedAt = &c
	}
	if t.Result != nil {
		m := make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			m[k] = v
		}
		cp.Result = m
	}
	return cp
}
