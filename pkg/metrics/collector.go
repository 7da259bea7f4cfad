package metrics

import (
	"time"

	"github.com/cuemby/havoc/pkg/types"
)

// TaskLister is the part of the task store the collector reads
type TaskLister interface {
	ListTasks() ([]*types.Task, error)
}

// Collector periodically refreshes the stored-task gauges
type Collector struct {
	store    TaskLister
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store TaskLister) *Collector {
	return &Collector{
		store:    store,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer ticker.Stop()
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	tasks, err := c.store.ListTasks()
	if err != nil {
		UpdateComponent("store", false, err.Error())
		return
	}
	UpdateComponent("store", true, "")

	TasksTotal.Reset()
	for _, task := range tasks {
		status := task.Status()
		if status == "" {
			status = types.TaskStatusInitializing
		}
		TasksTotal.WithLabelValues(string(task.TaskType), string(status)).Inc()
	}
}
