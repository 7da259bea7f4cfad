package command

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cuemby/havoc/pkg/log"
	"github.com/cuemby/havoc/pkg/metrics"
	"github.com/cuemby/havoc/pkg/remote"
	"github.com/cuemby/havoc/pkg/types"
	"github.com/rs/zerolog"
)

// Engine executes command lists against a remote executor
type Engine struct {
	logger zerolog.Logger

	// sleep waits between retries; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a command engine
func NewEngine() *Engine {
	return &Engine{
		logger: log.WithComponent("command"),
		sleep:  sleepContext,
	}
}

// RunCommands runs commands strictly in order. The trimmed output of each
// command is available to the next one as $FI_STACK. Extracted fields are
// written into info as soon as their command succeeds.
func (e *Engine) RunCommands(ctx context.Context, exec remote.Executor, commands []*types.CommandInfo, info *types.TroubleShootingInfo, args map[string]string) error {
	_, err := e.Run(ctx, exec, commands, info, args)
	return err
}

// Run is RunCommands returning the raw output of the last command
func (e *Engine) Run(ctx context.Context, exec remote.Executor, commands []*types.CommandInfo, info *types.TroubleShootingInfo, args map[string]string) (string, error) {
	if info == nil {
		info = types.NewTroubleShootingInfo()
	}

	var stack *string
	var last string
	for i, cmd := range commands {
		if cmd == nil {
			continue
		}

		resolved, err := Resolve(cmd.Command, Vars{Args: args, Info: info, Stack: stack})
		if err != nil {
			return "", err
		}

		output, err := e.runWithRetry(ctx, exec, cmd, resolved)
		if err != nil {
			return "", err
		}

		if err := extractFields(cmd, resolved, output, info); err != nil {
			return "", err
		}

		e.logger.Debug().
			Int("index", i).
			Str("command", resolved).
			Msg("Command succeeded")

		last = output
		trimmed := strings.TrimSpace(output)
		stack = &trimmed
	}
	return last, nil
}

// runWithRetry makes up to NoOfRetries+1 attempts. Only execution and
// validation failures are retried.
func (e *Engine) runWithRetry(ctx context.Context, exec remote.Executor, cmd *types.CommandInfo, resolved string) (string, error) {
	attempts := cmd.NoOfRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	interval := time.Duration(cmd.RetryInterval) * time.Second

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			metrics.CommandRetriesTotal.Inc()
			e.logger.Warn().
				Err(lastErr).
				Str("command", resolved).
				Int("attempt", attempt).
				Int("attempts", attempts).
				Msg("Retrying command")
			if err := e.sleep(ctx, interval); err != nil {
				return "", &Error{Code: CodeRetriesExhausted, Command: resolved, Message: "retry interrupted", Err: lastErr}
			}
		}

		output, err := executeOnce(ctx, exec, cmd, resolved)
		if err == nil {
			metrics.CommandExecutionsTotal.WithLabelValues("success").Inc()
			return output, nil
		}
		lastErr = err
	}

	if cmd.NoOfRetries > 0 {
		return "", &Error{
			Code:    CodeRetriesExhausted,
			Command: resolved,
			Message: fmt.Sprintf("command failed after %d attempts", attempts),
			Err:     lastErr,
		}
	}
	return "", lastErr
}

// executeOnce runs the command and validates exit code then expected output
func executeOnce(ctx context.Context, exec remote.Executor, cmd *types.CommandInfo, resolved string) (string, error) {
	res, err := exec.ExecuteCommand(ctx, resolved)
	if err != nil {
		metrics.CommandExecutionsTotal.WithLabelValues("error").Inc()
		return "", &Error{Code: CodeExecutionFailed, Command: resolved, Message: "failed to execute command", Err: err}
	}

	if !cmd.IgnoreExitValueCheck && res.ExitCode != 0 {
		metrics.CommandExecutionsTotal.WithLabelValues("failed").Inc()
		if cause, ok := knownFailure(cmd.KnownFailureMap, res.Output); ok {
			return "", &DiagnosedError{Command: resolved, ExitCode: res.ExitCode, Output: res.Output, Cause: cause}
		}
		return "", &Error{
			Code:     CodeExecutionFailed,
			Command:  resolved,
			ExitCode: res.ExitCode,
			Output:   res.Output,
			Message:  fmt.Sprintf("exit code %d, output: %s", res.ExitCode, strings.TrimSpace(res.Output)),
		}
	}

	if len(cmd.ExpectedOutputList) > 0 && !containsAny(res.Output, cmd.ExpectedOutputList) {
		metrics.CommandExecutionsTotal.WithLabelValues("failed").Inc()
		return "", &Error{
			Code:     CodeOutputMismatch,
			Command:  resolved,
			ExitCode: res.ExitCode,
			Output:   res.Output,
			Message:  fmt.Sprintf("output %q contains none of %q", strings.TrimSpace(res.Output), cmd.ExpectedOutputList),
		}
	}

	return res.Output, nil
}

// knownFailure returns the explanation of the longest key found in output so
// the result does not depend on map order.
func knownFailure(known map[string]string, output string) (string, bool) {
	best := ""
	for key := range known {
		if key != "" && strings.Contains(output, key) && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return "", false
	}
	return known[best], true
}

func containsAny(output string, candidates []string) bool {
	for _, c := range candidates {
		if strings.Contains(output, c) {
			return true
		}
	}
	return false
}

// extractFields applies the command's extraction rules. A rule with a
// capture group takes the first group, otherwise the whole match.
func extractFields(cmd *types.CommandInfo, resolved, output string, info *types.TroubleShootingInfo) error {
	for _, rule := range cmd.Extractions {
		if rule == nil || rule.Field == "" {
			continue
		}

		value := output
		if rule.Regex != "" {
			re, err := regexp.Compile(rule.Regex)
			if err != nil {
				return &Error{Code: CodeInvalidExtraction, Command: resolved, Message: fmt.Sprintf("invalid regex for field %s", rule.Field), Err: err}
			}
			m := re.FindStringSubmatch(output)
			switch {
			case m == nil:
				value = ""
			case len(m) > 1:
				value = m[1]
			default:
				value = m[0]
			}
		}

		value = strings.TrimSpace(value)
		if value == "" {
			return &Error{
				Code:    CodeFieldExtraction,
				Command: resolved,
				Output:  output,
				Message: fmt.Sprintf("no value for field %s", rule.Field),
			}
		}
		info.Set(rule.Field, value)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
