package agent

import (
	"github.com/burrowlabs/burrow/pkg/resource"
	"github.com/burrowlabs/burrow/pkg/transport"
	"github.com/burrowlabs/burrow/pkg/types"
)

// executor tracks one tenant executor: its descriptor, work
// directory, registration endpoint, the tasks queued until it
// registers, and the tasks already forwarded to it. The resources
// ledger always equals the sum of launched task resources.
type executor struct {
	id          types.ExecutorID
	frameworkID types.FrameworkID
	info        types.ExecutorInfo
	directory   string

	// pid is the executor's endpoint, zero until it registers.
	pid transport.PID

	resources resource.Resources

	// queuedTasks holds assignments accepted before registration, in
	// arrival order. Disjoint from launchedTasks.
	queuedTasks   []types.TaskDescription
	launchedTasks map[types.TaskID]*types.Task
}

func newExecutor(frameworkID types.FrameworkID, info types.ExecutorInfo, directory string) *executor {
	return &executor{
		id:            info.ExecutorID,
		frameworkID:   frameworkID,
		info:          info,
		directory:     directory,
		resources:     resource.Resources{},
		launchedTasks: make(map[types.TaskID]*types.Task),
	}
}

func (e *executor) registered() bool {
	return !e.pid.Empty()
}

// queueTask holds an assignment until the executor registers.
func (e *executor) queueTask(task types.TaskDescription) {
	e.queuedTasks = append(e.queuedTasks, task)
}

// addTask converts an assignment into a launched task record in state
// TASK_STARTING and folds its resources into the ledger. It returns
// the created record.
func (e *executor) addTask(task types.TaskDescription) *types.Task {
	t := &types.Task{
		TaskID:      task.TaskID,
		FrameworkID: e.frameworkID,
		ExecutorID:  e.id,
		SlaveID:     task.SlaveID,
		Name:        task.Name,
		State:       types.TaskStarting,
		Resources:   task.Resources.Clone(),
	}
	e.launchedTasks[task.TaskID] = t
	e.resources = e.resources.Add(task.Resources)
	return t
}

// removeTask drops the task wherever it lives: the queue, or the
// launched set (releasing its resources from the ledger).
func (e *executor) removeTask(taskID types.TaskID) {
	for i, queued := range e.queuedTasks {
		if queued.TaskID == taskID {
			e.queuedTasks = append(e.queuedTasks[:i], e.queuedTasks[i+1:]...)
			break
		}
	}

	if t, ok := e.launchedTasks[taskID]; ok {
		e.resources = e.resources.Subtract(t.Resources)
		delete(e.launchedTasks, taskID)
	}
}

func (e *executor) updateTaskState(taskID types.TaskID, state types.TaskState) {
	if t, ok := e.launchedTasks[taskID]; ok {
		t.State = state
	}
}

func (e *executor) holdsTask(taskID types.TaskID) bool {
	if _, ok := e.launchedTasks[taskID]; ok {
		return true
	}
	for _, queued := range e.queuedTasks {
		if queued.TaskID == taskID {
			return true
		}
	}
	return false
}

// framework tracks one tenant: its descriptor, scheduler endpoint,
// executors, and the status updates sent upstream that still await
// acknowledgement. A framework is retained exactly as long as it has
// an executor or a pending update.
type framework struct {
	id   types.FrameworkID
	info types.FrameworkInfo

	// pid is the framework scheduler's endpoint; it changes on
	// scheduler failover.
	pid transport.PID

	executors map[types.ExecutorID]*executor

	// updates holds in-flight status updates keyed by task id. A
	// newer update for the same task replaces the older one.
	updates map[types.TaskID]types.StatusUpdate
}

func newFramework(id types.FrameworkID, info types.FrameworkInfo, pid transport.PID) *framework {
	return &framework{
		id:        id,
		info:      info,
		pid:       pid,
		executors: make(map[types.ExecutorID]*executor),
		updates:   make(map[types.TaskID]types.StatusUpdate),
	}
}

func (f *framework) createExecutor(info types.ExecutorInfo, directory string) *executor {
	e := newExecutor(f.id, info, directory)
	f.executors[info.ExecutorID] = e
	return e
}

func (f *framework) executorByID(id types.ExecutorID) *executor {
	return f.executors[id]
}

// executorByTask finds the executor holding the task, queued or
// launched.
func (f *framework) executorByTask(taskID types.TaskID) *executor {
	for _, e := range f.executors {
		if e.holdsTask(taskID) {
			return e
		}
	}
	return nil
}

// idle reports whether nothing retains the framework.
func (f *framework) idle() bool {
	return len(f.executors) == 0 && len(f.updates) == 0
}
