package sched

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TaskStatus is the authoritative task state set. Transitions outside
// canTransition are rejected wherever state is mutated.
type TaskStatus string

const (
	StatusPending   TaskStatus = "PENDING"
	StatusExecuting TaskStatus = "EXECUTING"
	StatusCompleted TaskStatus = "COMPLETED"
	StatusFailed    TaskStatus = "FAILED"
	StatusCancelled TaskStatus = "CANCELLED"
)

// canTransition reports whether from -> to is an admitted state change.
//
// FAILED -> PENDING is the retry re-admission edge; the retry coordinator
// only takes it while the task has retry budget left.
func canTransition(from, to TaskStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusExecuting || to == StatusCancelled || to == StatusFailed
	case StatusExecuting:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusFailed:
		return to == StatusPending || to == StatusCancelled
	default:
		// COMPLETED and CANCELLED are terminal.
		return false
	}
}

// Priority orders pending tasks under the "priority" algorithm.
// Higher weight schedules earlier.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority maps a config/template string to a Priority.
// Empty input defaults to normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// ExecStrategy describes how a task is expected to be executed. It feeds two
// heuristics: the duration estimate used by shortest-job-first ordering, and
// the retry delay scale (slower strategies back off longer before a retry).
// Neither is ever measured.
type ExecStrategy string

const (
	StrategyAPIFirst       ExecStrategy = "api_first"
	StrategyBalanced       ExecStrategy = "balanced"
	StrategyUIAutomation   ExecStrategy = "ui_automation"
	StrategyManualFallback ExecStrategy = "manual_fallback"
)

// ParseExecStrategy maps a config/template string to an ExecStrategy.
// Empty input defaults to balanced.
func ParseExecStrategy(s string) (ExecStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(StrategyBalanced):
		return StrategyBalanced, nil
	case string(StrategyAPIFirst):
		return StrategyAPIFirst, nil
	case string(StrategyUIAutomation):
		return StrategyUIAutomation, nil
	case string(StrategyManualFallback):
		return StrategyManualFallback, nil
	default:
		return "", fmt.Errorf("unknown execution strategy %q", s)
	}
}

// estimateBase is the nominal duration of one task under the cheapest
// strategy. Used only for shortest-job-first ordering and retry scaling.
const estimateBase = 30 * time.Second

func strategyScale(s ExecStrategy) int {
	switch s {
	case StrategyAPIFirst:
		return 1
	case StrategyUIAutomation:
		return 3
	case StrategyManualFallback:
		return 5
	default:
		return 2 // balanced; also the fallback for unknown strategies
	}
}

func estimatedDuration(s ExecStrategy) time.Duration {
	return estimateBase * time.Duration(strategyScale(s))
}

// Task is a unit of automation work against one platform target.
//
// AssignedDeviceID/AssignedAccountID are transient: stamped while the task is
// EXECUTING (when device preference is enabled) and overwritten by the ids
// the engine reports back.
type Task struct {
	ID           string
	Type         string
	Platform     string
	TargetUserID string

	Priority Priority
	Deadline *time.Time
	Strategy ExecStrategy

	Status     TaskStatus
	RetryCount int
	MaxRetries int

	Result       map[string]any
	ErrorMessage string

	AssignedDeviceID  string
	AssignedAccountID string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// DeviceStatus is the device liveness state as reported by the fleet.
type DeviceStatus string

const (
	DeviceOnline  DeviceStatus = "online"
	DeviceOffline DeviceStatus = "offline"
)

// Device is one physical executor in the fleet.
// Invariant: 0 <= CurrentLoad <= MaxConcurrent.
type Device struct {
	ID            string
	Status        DeviceStatus
	CurrentLoad   int
	MaxConcurrent int
	Platforms     []string
	LastActiveAt  time.Time
}

func (d Device) supportsPlatform(platform string) bool {
	for _, p := range d.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// Account is one platform identity tasks execute under.
type Account struct {
	ID            string
	Platform      string
	Active        bool
	DailyUsed     int
	DailyLimit    int
	CooldownUntil *time.Time
	LastUsedAt    time.Time
}

// TaskResult is one per-task outcome reported by the execution engine.
// Any status other than COMPLETED is handled as a failure.
type TaskResult struct {
	TaskID       string
	Status       TaskStatus
	DeviceID     string
	AccountID    string
	Result       map[string]any
	ErrorMessage string
}

// ExecutionEngine is the external collaborator that performs device-level
// actions. ExecuteBatch must tolerate an empty task slice. CancelTask returns
// whether the engine accepted the cancellation.
type ExecutionEngine interface {
	ExecuteBatch(ctx context.Context, tasks []Task, devices []Device, accounts []Account) ([]TaskResult, error)
	CancelTask(ctx context.Context, taskID string) (bool, error)
}

// Algorithm selects the pending-partition ordering policy.
type Algorithm string

const (
	AlgoFIFO        Algorithm = "fifo"
	AlgoPriority    Algorithm = "priority"
	AlgoDeadline    Algorithm = "deadline"
	AlgoShortestJob Algorithm = "shortest_job_first"
)

func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(AlgoFIFO):
		return AlgoFIFO, nil
	case string(AlgoPriority):
		return AlgoPriority, nil
	case string(AlgoDeadline):
		return AlgoDeadline, nil
	case string(AlgoShortestJob):
		return AlgoShortestJob, nil
	default:
		return "", fmt.Errorf("unknown scheduling algorithm %q", s)
	}
}

// AllocationStrategy selects how a device is picked among the feasible ones.
type AllocationStrategy string

const (
	AllocGreedy   AllocationStrategy = "greedy"
	AllocOptimal  AllocationStrategy = "optimal"
	AllocBalanced AllocationStrategy = "balanced"
)

func ParseAllocationStrategy(s string) (AllocationStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(AllocGreedy):
		return AllocGreedy, nil
	case string(AllocOptimal):
		return AllocOptimal, nil
	case string(AllocBalanced):
		return AllocBalanced, nil
	default:
		return "", fmt.Errorf("unknown allocation strategy %q", s)
	}
}

// Config controls the scheduling engine.
//
// All interval fields are required except TickInterval, which defaults to 1s.
// CooldownPeriod is optional: when zero the engine only respects cooldowns set
// at registration time and never sets them itself.
type Config struct {
	Algorithm    Algorithm
	MaxQueueSize int

	TickInterval          time.Duration
	DeadlineCheckInterval time.Duration
	TaskTimeout           time.Duration
	CleanupInterval       time.Duration

	Allocation       AllocationStrategy
	DevicePreference bool

	AccountCooldown bool
	CooldownPeriod  time.Duration

	RetryDelay      time.Duration
	FailedRetention time.Duration

	PerformanceMonitoring bool
}

func (c Config) Validate() error {
	if _, err := ParseAlgorithm(string(c.Algorithm)); err != nil {
		return err
	}
	if _, err := ParseAllocationStrategy(string(c.Allocation)); err != nil {
		return err
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("max_queue_size must be > 0")
	}
	if c.TickInterval < 0 {
		return fmt.Errorf("tick_interval must be >= 0")
	}
	if c.DeadlineCheckInterval <= 0 {
		return fmt.Errorf("deadline_check_interval must be > 0")
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("task_timeout must be > 0")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be > 0")
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("failed_task_retry_delay must be > 0")
	}
	if c.FailedRetention <= 0 {
		return fmt.Errorf("max_failed_task_retention must be > 0")
	}
	if c.CooldownPeriod < 0 {
		return fmt.Errorf("account_cooldown_period must be >= 0")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	return c
}

// AddReport is the per-item outcome of AddBatch.
type AddReport struct {
	Added    int
	Rejected []RejectedTask
}

type RejectedTask struct {
	TaskID string
	Err    error
}

// QueueState is a point-in-time copy of all five partitions.
// Slices and tasks are defensive copies; mutating them has no effect.
type QueueState struct {
	Pending    []Task
	Processing []Task
	Completed  []Task
	Failed     []Task
	Cancelled  []Task
}

// ResourceUsage is a typed utilization counter pair.
type ResourceUsage struct {
	Used     int
	Capacity int
	Ratio    float64
}

func usageOf(used, capacity int) ResourceUsage {
	u := ResourceUsage{Used: used, Capacity: capacity}
	if capacity > 0 {
		u.Ratio = float64(used) / float64(capacity)
	}
	return u
}

// SchedulerStats is the observability surface.
//
// Today counters roll over at local midnight. Throughput counts completions
// in the trailing hour. Timing averages cover the last statsWindow outcomes
// and are only collected while performance monitoring is enabled.
type SchedulerStats struct {
	Pending    int
	Processing int

	CompletedToday int
	FailedToday    int

	AvgWait       time.Duration
	AvgProcessing time.Duration

	ThroughputHour int

	DeviceUtilization  map[string]ResourceUsage
	AccountUtilization map[string]ResourceUsage
}
