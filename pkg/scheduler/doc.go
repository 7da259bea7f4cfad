/*
Package scheduler defers task submission to a later start time.

The executor hands every injection (and node-status) task whose fault spec
carries a Schedule to Scheduler.Schedule instead of running it. The
scheduler checks its pending set every interval (5s by default) and
executes each task whose StartAt has passed, moving its schedule state
SCHEDULED → RUNNING. When the run completes the executor calls
MarkFinished, which records FINISHED.

Only a single start time is honoured; a cron expression on the schedule is
stored for display and not evaluated.
*/
package scheduler
