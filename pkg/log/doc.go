/*
Package log provides structured logging for Havoc using zerolog.

A single package-level Logger is configured once by Init and shared by every
component. Components derive child loggers carrying their context:

	execLog := log.WithComponent("executor")
	taskLog := log.WithTask(execLog, task.ID, task.ExtensionName)
	taskLog.Info().Str("substage", string(task.Substage())).Msg("Substage reached")

# Configuration

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
		Output:     os.Stdout,
	})

JSON output suits production log shipping; the console writer is meant for
operators running havoc by hand.

# Conventions

  - Errors are attached with .Err(err), never formatted into the message
  - Task scoped lines carry task_id and extension
  - Bookkeeping invariant violations log at Error with fatal_bookkeeping=true;
    the process keeps running
  - Store connectivity errors inside polling loops log at Debug only
*/
package log
