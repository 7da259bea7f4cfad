/*
Package substage sequences a task through checkpointed pipelines.

Injection tasks run INITIALISED → PREREQUISITES_CHECK →
PREPARE_TARGET_MACHINE → COMPLETED; remediation tasks run INITIALISED →
REMEDIATION_PREREQUISITES_CHECK → TRIGGER_REMEDIATION → COMPLETED. The
substage stored on the task names the last checkpoint that finished. A
failing stage returns its error and leaves that checkpoint in place, so
calling Run again picks up at the stage that failed.

The work of each stage is supplied by a Stages implementation; package fault
provides the command-driven one.
*/
package substage
