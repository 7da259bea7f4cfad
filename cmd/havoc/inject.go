package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/havoc/pkg/config"
	"github.com/cuemby/havoc/pkg/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var injectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Inject a fault from a definition file",
	Long: `Inject a fault described by a YAML definition file.

The fault runs in this process until its injection finishes. With --wait,
a system-resource fault is then polled on its endpoint until it completes
or fails.

Examples:
  # Inject a fault
  havoc inject -f cpu-burn.yaml

  # Inject and follow it until the endpoint reports an outcome
  havoc inject -f cpu-burn.yaml --wait`,
	RunE: runInject,
}

var remediateCmd = &cobra.Command{
	Use:   "remediate",
	Short: "Remediate an injected fault",
	RunE:  runRemediate,
}

func init() {
	injectCmd.Flags().StringP("file", "f", "", "Fault definition file (required)")
	injectCmd.Flags().Bool("wait", false, "Poll the fault until it completes or fails")
	_ = injectCmd.MarkFlagRequired("file")

	remediateCmd.Flags().String("task", "", "ID of the injection task to remediate (required)")
	_ = remediateCmd.MarkFlagRequired("task")
}

func runInject(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	wait, _ := cmd.Flags().GetBool("wait")

	doc, err := config.LoadFault(filename)
	if err != nil {
		return err
	}

	rt, err := newEngineRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.stop()
	rt.broker.Start()

	ctx, cancel := signalContext()
	defer cancel()

	task := doc.Task(uuid.New().String())
	if _, err := rt.executor.SubmitTask(ctx, task); err != nil {
		return err
	}

	if task.IsScheduled() {
		fmt.Printf("✓ Task %s scheduled for %s\n", task.ID, task.TaskData.Schedule.StartAt.Format(time.RFC3339))
		fmt.Println("  It runs while 'havoc serve' is running.")
		return nil
	}

	if task.Status() == types.TaskStatusSkipped {
		printTask(task)
		return nil
	}
	if err := rt.executor.Join(task); err != nil {
		return err
	}
	printTask(task)

	if !wait || task.Status() != types.TaskStatusInjected {
		return nil
	}

	fmt.Println("Waiting for the endpoint to report an outcome (Ctrl+C to stop)...")
	rt.reconciler.Start()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		stored, err := rt.store.GetTask(task.ID)
		if err != nil {
			continue
		}
		if stored.Status().IsTerminal() {
			printTask(stored)
			return nil
		}
	}
}

func runRemediate(cmd *cobra.Command, args []string) error {
	injectionID, _ := cmd.Flags().GetString("task")

	rt, err := newEngineRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.stop()
	rt.broker.Start()

	injection, err := rt.store.GetTask(injectionID)
	if err != nil {
		return fmt.Errorf("failed to load task %s: %w", injectionID, err)
	}
	if injection.TaskType != types.TaskTypeInjection {
		return fmt.Errorf("task %s is not an injection task", injectionID)
	}
	if injection.IsRemediated() {
		fmt.Printf("Task %s is already remediated\n", injectionID)
		return nil
	}

	task := types.NewTask(uuid.New().String(), types.TaskTypeRemediation, injection.ExtensionName, injection.TaskData)
	task.InjectionTaskID = injection.ID
	task.Initialized = true

	ctx, cancel := signalContext()
	defer cancel()

	if _, err := rt.executor.SubmitTask(ctx, task); err != nil {
		return err
	}
	if task.Status() != types.TaskStatusSkipped {
		if err := rt.executor.Join(task); err != nil {
			return err
		}
	}
	printTask(task)
	return nil
}

// signalContext is canceled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
