package sched

import (
	"testing"
	"time"
)

func TestQueueMoveEnforcesTransitions(t *testing.T) {
	t.Parallel()
	q := newTaskQueue()
	task := pendingTask("t1", PriorityNormal, nil, StrategyBalanced)
	q.addPending(task)
	now := time.Now()

	if err := q.move(task, StatusCompleted, now); err == nil {
		t.Fatal("PENDING -> COMPLETED must be rejected")
	}
	if err := q.move(task, StatusExecuting, now); err != nil {
		t.Fatalf("PENDING -> EXECUTING: %v", err)
	}
	if err := q.move(task, StatusCompleted, now); err != nil {
		t.Fatalf("EXECUTING -> COMPLETED: %v", err)
	}
	if err := q.move(task, StatusPending, now); err == nil {
		t.Fatal("COMPLETED is terminal; move must be rejected")
	}
}

func TestQueueTaskInExactlyOnePartition(t *testing.T) {
	t.Parallel()
	q := newTaskQueue()
	task := pendingTask("t1", PriorityNormal, nil, StrategyBalanced)
	q.addPending(task)
	now := time.Now()

	count := func() int {
		n := 0
		st := q.snapshot()
		for _, part := range [][]Task{st.Pending, st.Processing, st.Completed, st.Failed, st.Cancelled} {
			for _, pt := range part {
				if pt.ID == "t1" {
					n++
				}
			}
		}
		return n
	}

	for _, to := range []TaskStatus{StatusExecuting, StatusFailed} {
		if got := count(); got != 1 {
			t.Fatalf("task in %d partitions before move to %s, want 1", got, to)
		}
		if err := q.move(task, to, now); err != nil {
			t.Fatalf("move to %s: %v", to, err)
		}
	}
	if got := count(); got != 1 {
		t.Fatalf("task in %d partitions, want 1", got)
	}
}

func TestQueueSnapshotIsDefensive(t *testing.T) {
	t.Parallel()
	q := newTaskQueue()
	dl := time.Now().Add(time.Hour)
	task := pendingTask("t1", PriorityNormal, &dl, StrategyBalanced)
	task.Result = map[string]any{"k": "v"}
	q.addPending(task)

	st := q.snapshot()
	st.Pending[0].Result["k"] = "mutated"
	*st.Pending[0].Deadline = time.Time{}
	st.Pending[0].ID = "other"

	orig, _ := q.get("t1")
	if orig.Result["k"] != "v" {
		t.Fatalf("internal Result mutated through snapshot: %v", orig.Result)
	}
	if !orig.Deadline.Equal(dl) {
		t.Fatalf("internal Deadline mutated through snapshot: %v", orig.Deadline)
	}
}

func TestQueueDropEvicts(t *testing.T) {
	t.Parallel()
	q := newTaskQueue()
	task := pendingTask("t1", PriorityNormal, nil, StrategyBalanced)
	q.addPending(task)
	if err := q.move(task, StatusCancelled, time.Now()); err != nil {
		t.Fatalf("move: %v", err)
	}

	q.drop(task)
	if q.has("t1") {
		t.Fatal("dropped task still indexed")
	}
	if n := len(q.snapshot().Cancelled); n != 0 {
		t.Fatalf("cancelled partition has %d tasks after drop, want 0", n)
	}
}
