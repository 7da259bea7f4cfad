/*
Package reconciler heals the status of long-running faults against what
their endpoints report.

A system-resource fault ends its executor run as INJECTED while the fault
keeps acting on the endpoint. Every interval (20s by default) the
Reconciler lists those tasks and runs each fault's status commands on its
endpoint:

  - output containing COMPLETED moves the task to COMPLETED and marks it
    remediated
  - output containing FAILED moves it to FAILED with the output as reason

Errors raised while polling are classified by message. An unreachable
endpoint is held in TEST_MACHINE_INVALID_STATE until the trigger's start
time plus the fault timeout plus the recovery window (120s) has passed,
after which it becomes TEST_ENDPOINT_UNKNOWN_STATE. A lost socket on a
kernel-panic fault is the expected outcome and completes the task. Store
connectivity errors are logged at debug level only.

Each change is persisted and published as task.modified, plus
task.completed when the status is COMPLETED or FAILED. A cycle never
terminates the loop; panics are recovered and logged.
*/
package reconciler
