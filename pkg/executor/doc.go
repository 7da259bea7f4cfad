/*
Package executor runs fault tasks and keeps the set of tasks in flight.

Each task runs on its own goroutine. Execute registers the task, starts the
worker and returns only after the worker has marked the attempt
IN_PROGRESS, so a caller never sees a registered task that has not begun.
When the handler returns, the executor settles the attempt (COMPLETED, or
INJECTED for system-resource faults that stay active), persists it, removes
it from the running set and wakes every Join caller.

The running set, the "started" and "done" conditions and all status
bookkeeping share one mutex. Handlers run without it, so a slow remote
command never blocks submissions, cancels or queries.

Cancel is cooperative: it marks the attempt CANCELING and forwards the
request to the handler, which decides when to stop.
*/
package executor
