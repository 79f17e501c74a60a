package sched

import (
	"testing"
	"time"
)

func pendingTask(id string, prio Priority, deadline *time.Time, strat ExecStrategy) *Task {
	t := &Task{
		ID:           id,
		Type:         "reply",
		Platform:     "douyin",
		TargetUserID: "user-" + id,
		Priority:     prio,
		Deadline:     deadline,
		Strategy:     strat,
		Status:       StatusPending,
	}
	return t
}

func ids(tasks []*Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestSortPendingPriority(t *testing.T) {
	t.Parallel()
	tasks := []*Task{
		pendingTask("a", PriorityLow, nil, StrategyBalanced),
		pendingTask("b", PriorityUrgent, nil, StrategyBalanced),
		pendingTask("c", PriorityNormal, nil, StrategyBalanced),
	}
	sortPending(tasks, AlgoPriority)

	want := []string{"b", "c", "a"}
	got := ids(tasks)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSortPendingPriorityStableTies(t *testing.T) {
	t.Parallel()
	tasks := []*Task{
		pendingTask("first", PriorityHigh, nil, StrategyBalanced),
		pendingTask("second", PriorityHigh, nil, StrategyBalanced),
		pendingTask("third", PriorityHigh, nil, StrategyBalanced),
	}
	sortPending(tasks, AlgoPriority)

	want := []string{"first", "second", "third"}
	got := ids(tasks)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ties reordered: %v, want %v", got, want)
		}
	}
}

func TestSortPendingDeadlineNilLast(t *testing.T) {
	t.Parallel()
	soon := time.Now().Add(time.Minute)
	later := time.Now().Add(time.Hour)
	tasks := []*Task{
		pendingTask("none", PriorityNormal, nil, StrategyBalanced),
		pendingTask("later", PriorityNormal, &later, StrategyBalanced),
		pendingTask("soon", PriorityNormal, &soon, StrategyBalanced),
	}
	sortPending(tasks, AlgoDeadline)

	want := []string{"soon", "later", "none"}
	got := ids(tasks)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSortPendingShortestJob(t *testing.T) {
	t.Parallel()
	tasks := []*Task{
		pendingTask("manual", PriorityNormal, nil, StrategyManualFallback),
		pendingTask("api", PriorityNormal, nil, StrategyAPIFirst),
		pendingTask("ui", PriorityNormal, nil, StrategyUIAutomation),
	}
	sortPending(tasks, AlgoShortestJob)

	want := []string{"api", "ui", "manual"}
	got := ids(tasks)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSortPendingFIFOKeepsInsertionOrder(t *testing.T) {
	t.Parallel()
	tasks := []*Task{
		pendingTask("a", PriorityLow, nil, StrategyManualFallback),
		pendingTask("b", PriorityUrgent, nil, StrategyAPIFirst),
		pendingTask("c", PriorityNormal, nil, StrategyBalanced),
	}
	sortPending(tasks, AlgoFIFO)

	want := []string{"a", "b", "c"}
	got := ids(tasks)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fifo reordered: %v, want %v", got, want)
		}
	}
}

func TestEstimatedDurationScales(t *testing.T) {
	t.Parallel()
	if got := estimatedDuration(StrategyManualFallback); got != 5*estimateBase {
		t.Fatalf("manual fallback estimate = %v, want %v", got, 5*estimateBase)
	}
	if got := estimatedDuration(StrategyAPIFirst); got != estimateBase {
		t.Fatalf("api first estimate = %v, want %v", got, estimateBase)
	}
	if got := estimatedDuration(ExecStrategy("unknown")); got != 2*estimateBase {
		t.Fatalf("unknown strategy estimate = %v, want balanced fallback %v", got, 2*estimateBase)
	}
}
