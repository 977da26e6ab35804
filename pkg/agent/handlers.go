package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/burrowlabs/burrow/pkg/events"
	"github.com/burrowlabs/burrow/pkg/messages"
	"github.com/burrowlabs/burrow/pkg/metrics"
	"github.com/burrowlabs/burrow/pkg/transport"
	"github.com/burrowlabs/burrow/pkg/types"
)

// --- Master link ---------------------------------------------------

func (a *Agent) newMasterDetected(master transport.PID) {
	a.logger.Info().Str("master", master.String()).Msg("New master detected")
	metrics.MasterDetections.Inc()

	a.master = master
	a.messenger.Link(master)

	if a.id == "" {
		// Agent started before the master; fresh registration.
		a.messenger.Send(a.master, messages.RegisterSlave{Slave: a.info})
	} else {
		// Re-registering after failover: enumerate every launched
		// task so the new master can rebuild its view.
		a.messenger.Send(a.master, messages.ReregisterSlave{
			SlaveID: a.id,
			Slave:   a.info,
			Tasks:   a.launchedTasks(),
		})
	}

	a.publish(&events.Event{Type: events.EventMasterDetected, Message: master.String()})
}

func (a *Agent) noMasterDetected() {
	a.logger.Warn().Msg("Lost master(s), waiting for a new election")
	a.publish(&events.Event{Type: events.EventMasterLost})
}

func (a *Agent) registered(slaveID types.SlaveID) {
	a.logger.Info().Str("slave_id", string(slaveID)).Msg("Registered with master")
	a.id = slaveID
}

func (a *Agent) reregistered(slaveID types.SlaveID) {
	a.logger.Info().Str("slave_id", string(slaveID)).Msg("Re-registered with master")
	if a.id != slaveID {
		a.logger.Fatal().
			Str("expected", string(a.id)).
			Str("received", string(slaveID)).
			Msg("Re-registered with wrong slave id")
	}
}

// exited handles a linked peer disappearing.
func (a *Agent) exited(peer transport.PID) {
	a.logger.Info().Str("peer", peer.String()).Msg("Peer exited")
	if peer == a.master {
		a.logger.Warn().Msg("Master disconnected, waiting for a new master to be elected")
	}
}

// launchedTasks snapshots every launched task across all frameworks.
func (a *Agent) launchedTasks() []types.Task {
	var tasks []types.Task
	for _, f := range a.frameworks {
		for _, e := range f.executors {
			for _, t := range e.launchedTasks {
				tasks = append(tasks, *t)
			}
		}
	}
	return tasks
}

// --- Task lifecycle ------------------------------------------------

func (a *Agent) runTask(frameworkInfo types.FrameworkInfo, frameworkID types.FrameworkID,
	pid string, task types.TaskDescription) {

	a.logger.Info().
		Str("task_id", string(task.TaskID)).
		Str("framework_id", string(frameworkID)).
		Msg("Got assigned task")

	f := a.frameworks[frameworkID]
	if f == nil {
		f = newFramework(frameworkID, frameworkInfo, a.parsePID(pid))
		a.frameworks[frameworkID] = f
		a.publish(&events.Event{Type: events.EventFrameworkAdded, FrameworkID: frameworkID})
	}

	// Either hand the task to an existing executor or start a new
	// executor and queue the task until it registers.
	executorInfo := f.info.Executor
	if task.Executor != nil {
		executorInfo = *task.Executor
	}

	if e := f.executorByID(executorInfo.ExecutorID); e != nil {
		if !e.registered() {
			// Queue task until the executor starts up.
			e.queueTask(task)
		} else {
			e.addTask(task)
			a.stats.countTask(types.TaskStarting)

			a.messenger.Send(e.pid, messages.RunTask{
				Framework:   f.info,
				FrameworkID: f.id,
				Pid:         f.pid.String(),
				Task:        task,
			})
			a.isolation.ResourcesChanged(f.id, e.id, e.resources)
		}
		a.syncGauges()
		return
	}

	directory, err := a.uniqueWorkDirectory(f.id, executorInfo.ExecutorID)
	if err != nil {
		a.logger.Error().Err(err).
			Str("executor_id", string(executorInfo.ExecutorID)).
			Msg("Failed to allocate work directory, marking task lost")
		update := a.fabricateUpdate(f.id, executorInfo.ExecutorID, task.TaskID, types.TaskLost)
		a.messenger.Send(a.master, messages.StatusUpdate{Update: update, Reliable: false})
		// A framework created for this task has nothing retaining it.
		if f.idle() {
			a.removeFramework(f, false)
		}
		return
	}
	a.logger.Info().
		Str("directory", directory).
		Str("executor_id", string(executorInfo.ExecutorID)).
		Str("framework_id", string(f.id)).
		Msg("Allocated executor work directory")

	e := f.createExecutor(executorInfo, directory)
	e.queueTask(task)
	a.isolation.LaunchExecutor(f.id, f.info, e.info, directory)
	a.syncGauges()
}

func (a *Agent) registerExecutor(from transport.PID, frameworkID types.FrameworkID,
	executorID types.ExecutorID) {

	a.logger.Info().
		Str("executor_id", string(executorID)).
		Str("framework_id", string(frameworkID)).
		Str("from", from.String()).
		Msg("Got executor registration")

	f := a.frameworks[frameworkID]
	if f == nil {
		// Framework is gone (it may have been killed); tell the
		// executor to exit.
		a.logger.Warn().
			Str("framework_id", string(frameworkID)).
			Msg("Executor registering for unknown framework, telling it to exit")
		a.messenger.Send(from, messages.Shutdown{})
		return
	}

	e := f.executorByID(executorID)
	switch {
	case e == nil:
		a.logger.Warn().
			Str("executor_id", string(executorID)).
			Str("framework_id", string(frameworkID)).
			Msg("Unexpected executor registering, telling it to exit")
		a.messenger.Send(from, messages.Shutdown{})

	case e.registered():
		a.logger.Warn().
			Str("executor_id", string(executorID)).
			Str("framework_id", string(frameworkID)).
			Msg("Executor already registered, telling the duplicate to exit")
		a.messenger.Send(from, messages.Shutdown{})

	default:
		e.pid = from

		// Now that the executor is up, set its resource limits.
		a.isolation.ResourcesChanged(f.id, e.id, e.resources)

		a.messenger.Send(e.pid, messages.ExecutorRegistered{Args: types.ExecutorArgs{
			FrameworkID: f.id,
			ExecutorID:  e.id,
			SlaveID:     a.id,
			Hostname:    a.info.Hostname,
			Data:        e.info.Data,
		}})

		// Drain tasks queued while the executor was starting, in
		// arrival order.
		a.logger.Info().
			Int("tasks", len(e.queuedTasks)).
			Str("framework_id", string(f.id)).
			Msg("Flushing queued tasks")
		drained := len(e.queuedTasks) > 0
		for _, task := range e.queuedTasks {
			e.addTask(task)
			a.stats.countTask(types.TaskStarting)
			a.messenger.Send(e.pid, messages.RunTask{
				Framework:   f.info,
				FrameworkID: f.id,
				Pid:         f.pid.String(),
				Task:        task,
			})
		}
		e.queuedTasks = nil
		if drained {
			a.isolation.ResourcesChanged(f.id, e.id, e.resources)
		}

		a.publish(&events.Event{
			Type:        events.EventExecutorRegistered,
			FrameworkID: f.id,
			ExecutorID:  e.id,
		})
		a.syncGauges()
	}
}

func (a *Agent) killTask(frameworkID types.FrameworkID, taskID types.TaskID) {
	a.logger.Info().
		Str("task_id", string(taskID)).
		Str("framework_id", string(frameworkID)).
		Msg("Asked to kill task")

	f := a.frameworks[frameworkID]
	if f == nil {
		a.logger.Warn().
			Str("task_id", string(taskID)).
			Str("framework_id", string(frameworkID)).
			Msg("Cannot kill task of unknown framework, marking lost")
		update := a.fabricateUpdate(frameworkID, "", taskID, types.TaskLost)
		a.messenger.Send(a.master, messages.StatusUpdate{Update: update, Reliable: false})
		return
	}

	e := f.executorByTask(taskID)
	switch {
	case e == nil:
		a.logger.Warn().
			Str("task_id", string(taskID)).
			Str("framework_id", string(frameworkID)).
			Msg("Cannot kill unknown task, marking lost")
		update := a.fabricateUpdate(f.id, "", taskID, types.TaskLost)
		a.messenger.Send(a.master, messages.StatusUpdate{Update: update, Reliable: false})

	case !e.registered():
		// The executor cannot be reached yet; drop the task locally
		// and report it killed.
		e.removeTask(taskID)
		a.isolation.ResourcesChanged(f.id, e.id, e.resources)

		update := a.fabricateUpdate(f.id, e.id, taskID, types.TaskKilled)
		a.messenger.Send(a.master, messages.StatusUpdate{Update: update, Reliable: false})
		a.syncGauges()

	default:
		// The executor owns the task; let its status update close the
		// loop.
		a.messenger.Send(e.pid, messages.KillTask{
			FrameworkID: frameworkID,
			TaskID:      taskID,
		})
	}
}

func (a *Agent) killFramework(frameworkID types.FrameworkID) {
	a.logger.Info().Str("framework_id", string(frameworkID)).Msg("Asked to kill framework")
	if f := a.frameworks[frameworkID]; f != nil {
		a.removeFramework(f, true)
	}
}

// fabricateUpdate synthesizes a terminal status update for a task the
// agent cannot reach. Fabricated updates bypass the retry pipeline.
func (a *Agent) fabricateUpdate(frameworkID types.FrameworkID, executorID types.ExecutorID,
	taskID types.TaskID, state types.TaskState) types.StatusUpdate {
	return types.StatusUpdate{
		UUID:        uuid.New().String(),
		FrameworkID: frameworkID,
		ExecutorID:  executorID,
		SlaveID:     a.id,
		Status: types.TaskStatus{
			TaskID: taskID,
			State:  state,
		},
		Timestamp: time.Now(),
	}
}

// --- Data message forwarding --------------------------------------

// schedulerMessage forwards an opaque payload from a framework
// scheduler to its executor.
func (a *Agent) schedulerMessage(slaveID types.SlaveID, frameworkID types.FrameworkID,
	executorID types.ExecutorID, data []byte) {

	f := a.frameworks[frameworkID]
	if f == nil {
		a.logger.Warn().
			Str("framework_id", string(frameworkID)).
			Msg("Dropping message for unknown framework")
		a.stats.countFrameworkMessage(false)
		return
	}

	e := f.executorByID(executorID)
	switch {
	case e == nil:
		a.logger.Warn().
			Str("executor_id", string(executorID)).
			Str("framework_id", string(frameworkID)).
			Msg("Dropping message for unknown executor")
		a.stats.countFrameworkMessage(false)

	case !e.registered():
		a.logger.Warn().
			Str("executor_id", string(executorID)).
			Str("framework_id", string(frameworkID)).
			Msg("Dropping message for executor that is not running")
		a.stats.countFrameworkMessage(false)

	default:
		a.messenger.Send(e.pid, messages.FrameworkToExecutor{
			SlaveID:     slaveID,
			FrameworkID: frameworkID,
			ExecutorID:  executorID,
			Data:        data,
		})
		a.stats.countFrameworkMessage(true)
	}
}

// executorMessage forwards an opaque payload from an executor to its
// framework scheduler.
func (a *Agent) executorMessage(slaveID types.SlaveID, frameworkID types.FrameworkID,
	executorID types.ExecutorID, data []byte) {

	f := a.frameworks[frameworkID]
	if f == nil {
		a.logger.Warn().
			Str("framework_id", string(frameworkID)).
			Msg("Dropping executor message for unknown framework")
		a.stats.countFrameworkMessage(false)
		return
	}

	a.messenger.Send(f.pid, messages.ExecutorToFramework{
		SlaveID:     slaveID,
		FrameworkID: frameworkID,
		ExecutorID:  executorID,
		Data:        data,
	})
	a.stats.countFrameworkMessage(true)
}

// updateFramework repoints the framework at a failed-over scheduler.
func (a *Agent) updateFramework(frameworkID types.FrameworkID, pid string) {
	if f := a.frameworks[frameworkID]; f != nil {
		a.logger.Info().
			Str("framework_id", string(frameworkID)).
			Str("pid", pid).
			Msg("Updating framework scheduler endpoint")
		f.pid = a.parsePID(pid)
	}
}

// --- Status-update pipeline ---------------------------------------

func (a *Agent) statusUpdate(update types.StatusUpdate) {
	status := update.Status
	a.logger.Info().
		Str("task_id", string(status.TaskID)).
		Str("framework_id", string(update.FrameworkID)).
		Str("state", string(status.State)).
		Msg("Status update")

	f := a.frameworks[update.FrameworkID]
	if f == nil {
		a.logger.Warn().
			Str("framework_id", string(update.FrameworkID)).
			Msg("Status update for unknown framework")
		a.stats.countStatusUpdate(false)
		return
	}

	e := f.executorByTask(status.TaskID)
	if e == nil {
		a.logger.Warn().
			Str("task_id", string(status.TaskID)).
			Str("framework_id", string(update.FrameworkID)).
			Msg("Status update with no matching executor")
		a.stats.countStatusUpdate(false)
		return
	}

	e.updateTaskState(status.TaskID, status.State)

	// Terminal tasks leave the ledger before the update goes
	// upstream.
	if status.State.Terminal() {
		e.removeTask(status.TaskID)
		a.isolation.ResourcesChanged(f.id, e.id, e.resources)
	}

	// Send reliably and keep the update for re-sending until the
	// master acknowledges it.
	a.messenger.Send(a.master, messages.StatusUpdate{Update: update, Reliable: true})
	f.updates[status.TaskID] = update
	a.armStatusUpdateRetry(update)

	a.stats.countTask(status.State)
	a.stats.countStatusUpdate(true)

	a.publish(&events.Event{
		Type:        events.EventTaskState,
		FrameworkID: update.FrameworkID,
		ExecutorID:  e.id,
		TaskID:      status.TaskID,
		Message:     string(status.State),
	})
	a.syncGauges()
}

func (a *Agent) statusUpdateAcknowledgement(slaveID types.SlaveID,
	frameworkID types.FrameworkID, taskID types.TaskID) {

	f := a.frameworks[frameworkID]
	if f == nil {
		return
	}
	if _, ok := f.updates[taskID]; !ok {
		return
	}

	a.logger.Info().
		Str("task_id", string(taskID)).
		Str("framework_id", string(frameworkID)).
		Msg("Got acknowledgement of status update")
	delete(f.updates, taskID)

	// The last pending update may have been the only thing retaining
	// the framework.
	if f.idle() {
		a.removeFramework(f, false)
	}
	a.syncGauges()
}

func (a *Agent) armStatusUpdateRetry(update types.StatusUpdate) {
	time.AfterFunc(a.retryInterval, func() {
		a.post(func() { a.statusUpdateTimeout(update) })
	})
}

// statusUpdateTimeout re-sends an update the master has not yet
// acknowledged, and re-arms itself.
func (a *Agent) statusUpdateTimeout(update types.StatusUpdate) {
	f := a.frameworks[update.FrameworkID]
	if f == nil {
		return
	}
	stored, ok := f.updates[update.Status.TaskID]
	if !ok {
		return
	}

	a.logger.Info().
		Str("task_id", string(update.Status.TaskID)).
		Str("framework_id", string(update.FrameworkID)).
		Msg("Resending status update")
	a.messenger.Send(a.master, messages.StatusUpdate{Update: stored, Reliable: true})
	metrics.StatusUpdateRetries.Inc()

	a.armStatusUpdateRetry(stored)
}

// --- Isolation callbacks ------------------------------------------

func (a *Agent) executorStarted(frameworkID types.FrameworkID, executorID types.ExecutorID,
	pid int) {
	a.logger.Info().
		Str("executor_id", string(executorID)).
		Str("framework_id", string(frameworkID)).
		Int("pid", pid).
		Msg("Executor started")
}

func (a *Agent) executorExited(frameworkID types.FrameworkID, executorID types.ExecutorID,
	status int) {

	f := a.frameworks[frameworkID]
	if f == nil {
		a.logger.Warn().
			Str("executor_id", string(executorID)).
			Str("framework_id", string(frameworkID)).
			Int("status", status).
			Msg("Executor of unknown framework exited")
		return
	}

	e := f.executorByID(executorID)
	if e == nil {
		a.logger.Warn().
			Str("executor_id", string(executorID)).
			Str("framework_id", string(frameworkID)).
			Int("status", status).
			Msg("Unknown executor exited")
		return
	}

	a.logger.Info().
		Str("executor_id", string(executorID)).
		Str("framework_id", string(frameworkID)).
		Int("status", status).
		Msg("Executor exited")

	a.messenger.Send(a.master, messages.ExitedExecutor{
		SlaveID:     a.id,
		FrameworkID: frameworkID,
		ExecutorID:  executorID,
		Status:      status,
	})

	// The process is already gone; no second kill.
	a.removeExecutor(f, e, false)

	a.publish(&events.Event{
		Type:        events.EventExecutorExited,
		FrameworkID: frameworkID,
		ExecutorID:  executorID,
	})

	if f.idle() {
		a.removeFramework(f, false)
	}
	a.syncGauges()
}

// --- Teardown ------------------------------------------------------

// removeExecutor drops the executor from its framework, optionally
// shutting it down first. Pending status updates for its tasks are
// left to the retry pipeline.
func (a *Agent) removeExecutor(f *framework, e *executor, killExecutor bool) {
	if killExecutor {
		a.logger.Info().
			Str("executor_id", string(e.id)).
			Str("framework_id", string(f.id)).
			Msg("Shutting down executor")
		if e.registered() {
			a.messenger.Send(e.pid, messages.Shutdown{})
		}
		a.isolation.KillExecutor(f.id, e.id)
	}

	delete(f.executors, e.id)
}

// removeFramework removes every executor (killing them when asked)
// and drops the framework, discarding its pending updates.
func (a *Agent) removeFramework(f *framework, killExecutors bool) {
	a.logger.Info().Str("framework_id", string(f.id)).Msg("Cleaning up framework")

	// Iterate over a copy: removeExecutor mutates the map.
	executors := make([]*executor, 0, len(f.executors))
	for _, e := range f.executors {
		executors = append(executors, e)
	}
	for _, e := range executors {
		a.removeExecutor(f, e, killExecutors)
	}

	delete(a.frameworks, f.id)
	a.publish(&events.Event{Type: events.EventFrameworkRemoved, FrameworkID: f.id})
	a.syncGauges()
}

// terminate tears down every framework, then lets the loop exit; the
// isolation layer is stopped and joined by Stop.
func (a *Agent) terminate() {
	a.logger.Info().Msg("Agent terminating")

	frameworks := make([]*framework, 0, len(a.frameworks))
	for _, f := range a.frameworks {
		frameworks = append(frameworks, f)
	}
	for _, f := range frameworks {
		a.removeFramework(f, true)
	}

	a.stopping = true
}
