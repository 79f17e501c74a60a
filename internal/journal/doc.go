// Package journal persists task lifecycle records for audit.
//
// The live queue stays in memory inside the scheduling engine; the journal
// only receives lifecycle events (admission, completion, failure, retry,
// cancellation, deadline violations) through the event bus and appends them
// asynchronously. A slow or broken journal never blocks scheduling: the
// writer buffers, and drops with a throttled warning when the buffer fills.
package journal
