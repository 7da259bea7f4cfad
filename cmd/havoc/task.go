package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/cuemby/havoc/pkg/fault"
	"github.com/cuemby/havoc/pkg/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		tasks, err := store.ListTasks()
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}
		sort.Slice(tasks, func(i, j int) bool {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		})

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tEXTENSION\tSTATUS\tSUBSTAGE\tCREATED")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				t.ID, t.TaskType, t.ExtensionName, t.Status(), t.Substage(),
				t.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show a task as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		task, err := store.GetTask(args[0])
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(task, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage this node",
}

var nodeStatusCmd = &cobra.Command{
	Use:   "status [READY|PAUSED|MAINTENANCE_MODE]",
	Short: "Show or change whether this node runs tasks",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			status, err := store.GetNodeStatus(cfg.NodeID)
			if err != nil {
				status = types.NodeStatusReady
			}
			fmt.Printf("%s: %s\n", cfg.NodeID, status)
			return nil
		}

		rt, err := newEngineRuntime(cfg)
		if err != nil {
			return err
		}
		defer rt.stop()
		rt.broker.Start()

		task := types.NewTask(uuid.New().String(), types.TaskTypeInjection, types.ExtensionNodeStatus, &types.FaultSpec{
			Name: "node-status",
			Args: map[string]string{
				fault.ArgNodeStatus: args[0],
				fault.ArgNodeID:     cfg.NodeID,
			},
		})
		task.Initialized = true

		ctx, cancel := signalContext()
		defer cancel()
		if _, err := rt.executor.SubmitTask(ctx, task); err != nil {
			return err
		}
		if err := rt.executor.Join(task); err != nil {
			return err
		}
		printTask(task)
		return nil
	},
}

func init() {
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskGetCmd)
	nodeCmd.AddCommand(nodeStatusCmd)
}

func printTask(task *types.Task) {
	tr, _ := task.Trigger()
	fmt.Printf("Task %s\n", task.ID)
	fmt.Printf("  Type:      %s (%s)\n", task.TaskType, task.ExtensionName)
	fmt.Printf("  Status:    %s (%d%%)\n", tr.TaskStatus, tr.PercentageCompleted)
	fmt.Printf("  Substage:  %s\n", task.Substage())
	if tr.TaskFailureReason != "" {
		fmt.Printf("  Reason:    %s\n", tr.TaskFailureReason)
	}
}
