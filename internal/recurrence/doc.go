// Package recurrence turns declarative task templates into enqueued tasks.
//
// Each template carries a schedule (cron spec, @descriptor, @every interval,
// HH:MM shorthand, or a bare Go duration) and the task fields to stamp on
// every spawned task. The service is trigger-only: it instantiates tasks and
// hands them to the scheduling engine; it never executes anything itself.
package recurrence
