/*
Package types defines the core data structures used throughout Havoc.

The package holds the persisted model that every other component reads and
mutates: fault tasks, their execution attempts (triggers), the fault
specification with its command lists, and the troubleshooting info collected
while commands run.

# Core Types

Task Execution:
  - Task: Unit of work, either the INJECTION or the REMEDIATION half of a fault
  - TaskTrigger: One execution attempt; a task keeps an append-only log of them
  - TaskStatus: INITIALIZING, IN_PROGRESS, COMPLETED, FAILED, INJECTED, ...
  - Substage: Checkpoint inside the injection or remediation pipeline

Fault Specification:
  - FaultSpec: Endpoint, arguments, timeout, schedule and command lists
  - CommandInfo: One remote command with retry, expected output and known failures
  - FieldExtraction: Rule that copies command output into TroubleShootingInfo
  - CompositeSpec: Children of a multi-task fault

Node:
  - NodeStatus: READY, PAUSED, MAINTENANCE_MODE

# Task Lifecycle

A task is created uninitialized, initialized by its handler, and then handed to
the executor. Each execution attempt pushes a new trigger:

	INITIALIZING ──▶ IN_PROGRESS ──┬──▶ COMPLETED
	                               ├──▶ FAILED
	                               ├──▶ INJECTED ──▶ COMPLETED / FAILED (reconciler)
	                               └──▶ CANCELING

The reconciler may additionally move an in-flight attempt to
TEST_MACHINE_INVALID_STATE (still polling) or TEST_ENDPOINT_UNKNOWN_STATE.

Once an attempt is COMPLETED or FAILED it never goes back to INITIALIZING or
IN_PROGRESS; Transition refuses such moves.

# Thread Safety

Task, TroubleShootingInfo and CompositeSpec guard their state with an internal
lock. Read accessors return copies. JSON encoding takes the read lock, so a
task may be persisted while a worker is still mutating it.
*/
package types
