package substage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/havoc/pkg/events"
	"github.com/cuemby/havoc/pkg/log"
	"github.com/cuemby/havoc/pkg/metrics"
	"github.com/cuemby/havoc/pkg/types"
	"github.com/rs/zerolog"
)

// ErrCanceled is returned when a cancel request is observed between stages
var ErrCanceled = errors.New("task canceled")

// Stages performs the work of each checkpoint. Implementations must not
// change the task's substage; the Machine owns it.
type Stages interface {
	CheckPrerequisites(ctx context.Context, task *types.Task) error
	PrepareTarget(ctx context.Context, task *types.Task) error
	Inject(ctx context.Context, task *types.Task) error
	CheckRemediationPrerequisites(ctx context.Context, task *types.Task) error
	Remediate(ctx context.Context, task *types.Task) error
	Cleanup(ctx context.Context, task *types.Task) error
}

// Saver persists a task after a checkpoint
type Saver interface {
	AddOrUpdateTask(task *types.Task) error
}

// Machine drives a task through its injection or remediation pipeline. The
// recorded substage is the last completed checkpoint, so running the same
// task again resumes where the previous call stopped.
type Machine struct {
	stages    Stages
	store     Saver
	publisher events.Publisher
	logger    zerolog.Logger
}

// NewMachine creates a machine. store and publisher may be nil.
func NewMachine(stages Stages, store Saver, publisher events.Publisher) *Machine {
	return &Machine{
		stages:    stages,
		store:     store,
		publisher: publisher,
		logger:    log.WithComponent("substage"),
	}
}

// Run executes the pipeline matching the task type from its recorded substage
func (m *Machine) Run(ctx context.Context, task *types.Task) error {
	if task.Substage() == "" {
		m.advance(task, types.SubstageInitialised)
	}

	switch task.TaskType {
	case types.TaskTypeInjection:
		return m.runInjection(ctx, task)
	case types.TaskTypeRemediation:
		return m.runRemediation(ctx, task)
	default:
		return fmt.Errorf("unknown task type %q", task.TaskType)
	}
}

func (m *Machine) runInjection(ctx context.Context, task *types.Task) error {
	switch current := task.Substage(); current {
	case types.SubstageInitialised:
		if err := m.step(ctx, task, m.stages.CheckPrerequisites); err != nil {
			return err
		}
		m.advance(task, types.SubstagePrerequisitesCheck)
		fallthrough

	case types.SubstagePrerequisitesCheck:
		if prev, ok := task.PreviousTrigger(); ok && prev.TaskStatus == types.TaskStatusCompleted {
			m.logger.Debug().Str("task_id", task.ID).Msg("Target prepared by previous run, skipping")
		} else if err := m.step(ctx, task, m.stages.PrepareTarget); err != nil {
			return err
		}
		m.advance(task, types.SubstagePrepareTargetMachine)
		fallthrough

	case types.SubstagePrepareTargetMachine:
		if err := m.step(ctx, task, m.stages.Inject); err != nil {
			return err
		}
		m.advance(task, types.SubstageCompleted)
		return nil

	case types.SubstageCompleted:
		return nil

	default:
		return fmt.Errorf("substage %s is not part of the injection pipeline", current)
	}
}

func (m *Machine) runRemediation(ctx context.Context, task *types.Task) error {
	switch current := task.Substage(); current {
	case types.SubstageInitialised:
		if err := m.step(ctx, task, m.stages.CheckRemediationPrerequisites); err != nil {
			return err
		}
		m.advance(task, types.SubstageRemediationPrerequisitesCheck)
		fallthrough

	case types.SubstageRemediationPrerequisitesCheck:
		if err := m.step(ctx, task, m.stages.Remediate); err != nil {
			return err
		}
		m.advance(task, types.SubstageTriggerRemediation)
		fallthrough

	case types.SubstageTriggerRemediation:
		if err := m.step(ctx, task, m.stages.Cleanup); err != nil {
			return err
		}
		m.advance(task, types.SubstageCompleted)
		return nil

	case types.SubstageCompleted:
		return nil

	default:
		return fmt.Errorf("substage %s is not part of the remediation pipeline", current)
	}
}

// step runs one stage action unless a cancel has been requested
func (m *Machine) step(ctx context.Context, task *types.Task, action func(context.Context, *types.Task) error) error {
	if task.Status() == types.TaskStatusCanceling {
		return ErrCanceled
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return action(ctx, task)
}

// advance records the checkpoint, then notifies and persists it
func (m *Machine) advance(task *types.Task, next types.Substage) {
	task.SetSubstage(next)
	metrics.SubstageTransitionsTotal.WithLabelValues(string(next)).Inc()

	m.logger.Debug().
		Str("task_id", task.ID).
		Str("substage", string(next)).
		Msg("Substage reached")

	if m.publisher != nil {
		m.publisher.Publish(events.NewTaskEvent(events.EventTaskSubstageChanged, task, "substage "+string(next)))
	}
	if m.store != nil {
		if err := m.store.AddOrUpdateTask(task); err != nil {
			m.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to persist substage")
		}
	}
}
