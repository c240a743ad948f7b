package scheduler

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clawos/brain/internal/memory"
)

// Scheduler drains the four evolution-task priority queues during idle
// windows and dispatches each to an injected Executor.
type Scheduler struct {
	queues   *Queues
	state    *stateStore
	executor Executor
	mem      *memory.Manager
	logger   *log.Logger
}

// New wires a Scheduler to its queue directory, executor, and (optional)
// memory manager for result persistence.
func New(queueDir string, executor Executor, mem *memory.Manager, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		queues:   NewQueues(queueDir),
		state:    newStateStore(queueDir),
		executor: executor,
		mem:      mem,
		logger:   logger,
	}
}

// NoteActivity records a real-task arrival as the current time, so the next
// idle check yields. Per DESIGN.md's resolution of spec.md §9's open
// question: this is the only event that bumps lastActivity — evolution-task
// processing itself never does, else the scheduler would never go idle.
func (s *Scheduler) NoteActivity() error {
	st, err := s.state.load()
	if err != nil {
		return err
	}
	st.LastActivity = time.Now().UTC()
	return s.state.save(st)
}

// Enqueue adds a new evolution task at the given priority.
func (s *Scheduler) Enqueue(p Priority, task *Task) error {
	return s.queues.Enqueue(p, task)
}

// CheckIdle reports whether the system has been idle long enough for
// evolution tasks to run.
func (s *Scheduler) CheckIdle(now time.Time) (bool, error) {
	st, err := s.state.load()
	if err != nil {
		return false, err
	}
	threshold := time.Duration(st.IdleThresholdSeconds) * time.Second
	return now.Sub(st.LastActivity) > threshold, nil
}

// RunCycle runs one scheduler check: if the system is idle, it walks
// P1..P4 in order, moves the first pending task it finds into processing,
// and returns it. Returns nil if the system is not idle or no queue has a
// pending task.
func (s *Scheduler) RunCycle() (*Task, error) {
	st, err := s.state.load()
	if err != nil {
		return nil, err
	}
	st.LastCheck = time.Now().UTC()
	if err := s.state.save(st); err != nil {
		return nil, err
	}

	idle, err := s.CheckIdle(st.LastCheck)
	if err != nil {
		return nil, err
	}
	if !idle {
		return nil, nil
	}

	for _, p := range PriorityOrder {
		task, err := s.queues.NextPending(p)
		if err != nil {
			return nil, err
		}
		if task == nil {
			continue
		}
		moved, err := s.queues.MoveToProcessing(p, task.ID, "evolution-scheduler")
		if err != nil {
			return nil, err
		}
		return moved, nil
	}
	return nil, nil
}

// ExecuteAndComplete dispatches task to the configured executor and, on any
// terminal result, moves it from processing to completed, bumps stats, and
// emits a memory entry via the L1->L2 pipeline. Never returns an error for
// executor failures — it swallows them per spec's "scheduler MUST NOT
// crash on executor errors".
func (s *Scheduler) ExecuteAndComplete(ctx context.Context, task *Task) ExecutionResult {
	agent := agentFor(task.Type)
	instruction := describeTask(task)

	result := s.executor.Execute(ctx, agent, instruction)

	resultMap := map[string]interface{}{
		"success": result.Success, "agent": agent, "returncode": result.ReturnCode,
		"stdout": result.Stdout, "stderr": result.Stderr, "error": result.Error,
		"executedAt": result.ExecutedAt,
	}

	if _, err := s.queues.CompleteTask(task.Priority, task.ID, resultMap); err != nil {
		s.logger.Printf("[SCHEDULER] failed to complete task %s: %v", task.ID, err)
		return result
	}

	st, err := s.state.load()
	if err == nil {
		st.Stats.bump(task.Priority)
		_ = s.state.save(st)
	}

	if s.mem != nil {
		status := "completed"
		if !result.Success {
			status = "failed"
		}
		var tr memory.TaskResult
		tr.Task.ID = task.ID
		tr.Task.AgentID = agent
		tr.Task.Type = task.Type
		tr.Task.Description = instruction
		tr.Status = status
		if result.Success {
			tr.Result = result.Stdout
		} else {
			tr.Result = result.Error
		}
		s.mem.StoreTaskResult(tr)
	}

	return result
}

// RunDaemon runs continuous RunCycle/ExecuteAndComplete iterations on
// checkInterval, sleeping in 1-second increments so SIGINT/SIGTERM shutdown
// latency stays <= 1s even mid-sleep.
func (s *Scheduler) RunDaemon(ctx context.Context, checkInterval time.Duration) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	shutdown := false
	go func() {
		<-sigCh
		s.logger.Printf("[SCHEDULER] shutdown signal received")
		shutdown = true
	}()

	for !shutdown {
		task, err := s.RunCycle()
		if err != nil {
			s.logger.Printf("[SCHEDULER] cycle error: %v", err)
		} else if task != nil {
			s.logger.Printf("[SCHEDULER] dispatching task %s (priority %s)", task.ID, task.Priority)
			s.ExecuteAndComplete(ctx, task)
		}

		for i := 0; i < int(checkInterval.Seconds()) && !shutdown; i++ {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
	s.logger.Printf("[SCHEDULER] shutdown complete")
}

// Stats returns the scheduler's cumulative counters plus per-queue bucket
// sizes.
func (s *Scheduler) Stats() (Stats, map[Priority]QueueStats, error) {
	st, err := s.state.load()
	if err != nil {
		return Stats{}, nil, err
	}
	qStats, err := s.queues.Stats()
	if err != nil {
		return Stats{}, nil, err
	}
	return st.Stats, qStats, nil
}
