package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/havoc/pkg/command"
	"github.com/cuemby/havoc/pkg/config"
	"github.com/cuemby/havoc/pkg/events"
	"github.com/cuemby/havoc/pkg/executor"
	"github.com/cuemby/havoc/pkg/fault"
	"github.com/cuemby/havoc/pkg/log"
	"github.com/cuemby/havoc/pkg/metrics"
	"github.com/cuemby/havoc/pkg/reconciler"
	"github.com/cuemby/havoc/pkg/remote"
	"github.com/cuemby/havoc/pkg/scheduler"
	"github.com/cuemby/havoc/pkg/storage"
	"github.com/cuemby/havoc/pkg/substage"
	"github.com/cuemby/havoc/pkg/types"
)

// engineRuntime wires the engine components around one store
type engineRuntime struct {
	store      *storage.BoltStore
	broker     *events.Broker
	executor   *executor.Executor
	scheduler  *scheduler.Scheduler
	reconciler *reconciler.Reconciler
	collector  *metrics.Collector

	eventsSub events.Subscriber
	closers   []func() error
}

func openStore(c *config.Config) (*storage.BoltStore, error) {
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewBoltStore(c.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

func newEngineRuntime(c *config.Config) (*engineRuntime, error) {
	store, err := openStore(c)
	if err != nil {
		return nil, err
	}
	rt := &engineRuntime{store: store}
	metrics.UpdateComponent("store", true, "")

	resolver := remote.NewResolver()
	resolver.Register(types.EndpointLocal, remote.ShellFactory)
	if c.Containerd.Enabled {
		factory, closeClient, err := remote.NewContainerdFactory(remote.ContainerdConfig{
			SocketPath: c.Containerd.Socket,
			Namespace:  c.Containerd.Namespace,
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		resolver.Register(types.EndpointDocker, factory)
		rt.closers = append(rt.closers, closeClient)
	}

	rt.broker = events.NewBroker()
	engine := command.NewEngine()
	machine := substage.NewMachine(fault.NewCommandStages(engine, resolver), store, rt.broker)

	registry := fault.NewRegistry()
	registry.Register(types.ExtensionCommand, fault.NewCommandHandler(types.ExtensionCommand, machine))
	registry.Register(types.ExtensionSystemResource, fault.NewCommandHandler(types.ExtensionSystemResource, machine))
	registry.Register(types.ExtensionNodeStatus, fault.NewNodeStatusHandler(store))
	registry.Register(types.ExtensionComposite, fault.NewCompositeHandler())

	rt.executor = executor.NewExecutor(executor.Config{
		NodeID:            c.NodeID,
		ChildPollInterval: c.Executor.ChildPollInterval,
		ChildWaitTimeout:  c.Executor.ChildWaitTimeout,
	}, registry, store, rt.broker)

	rt.scheduler = scheduler.NewScheduler(c.Scheduler.Interval, store)
	rt.scheduler.SetRunner(rt.executor)
	rt.executor.SetScheduler(rt.scheduler)

	rt.reconciler = reconciler.NewReconciler(reconciler.Config{
		Interval:       c.Reconciler.Interval,
		RecoveryWindow: c.Reconciler.RecoveryWindow,
	}, store, resolver, engine, rt.broker)

	rt.collector = metrics.NewCollector(store)
	return rt, nil
}

// start launches the background loops and resumes unfinished work
func (rt *engineRuntime) start(ctx context.Context) error {
	rt.broker.Start()
	rt.eventsSub = rt.broker.Subscribe()
	go logEvents(rt.eventsSub)

	rt.scheduler.Start()
	rt.reconciler.Start()
	rt.collector.Start()
	metrics.UpdateComponent("executor", true, "")
	metrics.UpdateComponent("reconciler", true, "")

	tasks, err := rt.store.ListTasks()
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	if n := rt.scheduler.Restore(tasks); n > 0 {
		log.Logger.Info().Int("tasks", n).Msg("Restored scheduled tasks")
	}

	if n := rt.executor.Resume(ctx, tasks); n > 0 {
		log.Logger.Info().Int("tasks", n).Msg("Resumed interrupted tasks")
	}
	return nil
}

func (rt *engineRuntime) stop() {
	rt.scheduler.Stop()
	rt.reconciler.Stop()
	rt.executor.Stop()
	rt.collector.Stop()
	if rt.eventsSub != nil {
		rt.broker.Unsubscribe(rt.eventsSub)
	}
	rt.broker.Stop()

	for _, closeFn := range rt.closers {
		if err := closeFn(); err != nil {
			log.Logger.Warn().Err(err).Msg("Failed to close client")
		}
	}
	if err := rt.store.Close(); err != nil {
		log.Logger.Warn().Err(err).Msg("Failed to close store")
	}
}

func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for event := range sub {
		logger.Debug().
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Str("task_id", event.TaskID).
			Str("status", event.Metadata["status"]).
			Msg(event.Message)
	}
}
