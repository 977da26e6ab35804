// Package types defines the identifiers, task states, descriptors,
// and status-update records shared across the agent.
package types

import (
	"time"

	"github.com/burrowlabs/burrow/pkg/resource"
)

// Opaque identifiers. FrameworkID, ExecutorID, and TaskID are assigned
// by the master or the framework; SlaveID is assigned by the master on
// first registration and is stable for the lifetime of the agent.
type (
	FrameworkID string
	ExecutorID  string
	TaskID      string
	SlaveID     string
)

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskStarting TaskState = "TASK_STARTING"
	TaskRunning  TaskState = "TASK_RUNNING"
	TaskFinished TaskState = "TASK_FINISHED"
	TaskFailed   TaskState = "TASK_FAILED"
	TaskKilled   TaskState = "TASK_KILLED"
	TaskLost     TaskState = "TASK_LOST"
)

// TaskStates lists every state, in lifecycle order.
var TaskStates = []TaskState{
	TaskStarting, TaskRunning, TaskFinished, TaskFailed, TaskKilled, TaskLost,
}

// Terminal reports whether the state ends a task's lifecycle.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskFinished, TaskFailed, TaskKilled, TaskLost:
		return true
	}
	return false
}

// ExecutorInfo describes a tenant-supplied executor: what to run, the
// opaque blob handed to it at registration, and its resource bounds.
type ExecutorInfo struct {
	ExecutorID ExecutorID         `cbor:"executor_id" json:"executor_id"`
	URI        string             `cbor:"uri" json:"uri"`
	Data       []byte             `cbor:"data,omitempty" json:"data,omitempty"`
	Resources  resource.Resources `cbor:"resources,omitempty" json:"resources,omitempty"`
}

// FrameworkInfo describes a tenant framework. Executor is the default
// executor used for tasks that do not nominate their own.
type FrameworkInfo struct {
	Name     string       `cbor:"name" json:"name"`
	User     string       `cbor:"user" json:"user"`
	Executor ExecutorInfo `cbor:"executor" json:"executor"`
}

// SlaveInfo is what the agent advertises to the master at registration.
type SlaveInfo struct {
	Hostname       string             `cbor:"hostname" json:"hostname"`
	PublicHostname string             `cbor:"public_hostname" json:"public_hostname"`
	Resources      resource.Resources `cbor:"resources" json:"resources"`
	Attributes     map[string]string  `cbor:"attributes,omitempty" json:"attributes,omitempty"`
}

// TaskDescription is a task assignment as it arrives from the master.
// Executor, when set, nominates the executor the task runs under;
// otherwise the framework's default executor is used.
type TaskDescription struct {
	TaskID    TaskID             `cbor:"task_id" json:"task_id"`
	Name      string             `cbor:"name" json:"name"`
	SlaveID   SlaveID            `cbor:"slave_id" json:"slave_id"`
	Resources resource.Resources `cbor:"resources" json:"resources"`
	Executor  *ExecutorInfo      `cbor:"executor,omitempty" json:"executor,omitempty"`
	Data      []byte             `cbor:"data,omitempty" json:"data,omitempty"`
}

// Task is a launched task record.
type Task struct {
	TaskID      TaskID             `cbor:"task_id" json:"task_id"`
	FrameworkID FrameworkID        `cbor:"framework_id" json:"framework_id"`
	ExecutorID  ExecutorID         `cbor:"executor_id" json:"executor_id"`
	SlaveID     SlaveID            `cbor:"slave_id" json:"slave_id"`
	Name        string             `cbor:"name" json:"name"`
	State       TaskState          `cbor:"state" json:"state"`
	Resources   resource.Resources `cbor:"resources" json:"resources"`
}

// TaskStatus is the per-task portion of a status update.
type TaskStatus struct {
	TaskID TaskID    `cbor:"task_id" json:"task_id"`
	State  TaskState `cbor:"state" json:"state"`
	Data   []byte    `cbor:"data,omitempty" json:"data,omitempty"`
}

// StatusUpdate describes a task state transition. UUID identifies the
// update across retries; Timestamp is set by whoever created the
// update (the executor, or the agent for updates it fabricates) and is
// forwarded unchanged.
type StatusUpdate struct {
	UUID        string      `cbor:"uuid" json:"uuid"`
	FrameworkID FrameworkID `cbor:"framework_id" json:"framework_id"`
	ExecutorID  ExecutorID  `cbor:"executor_id,omitempty" json:"executor_id,omitempty"`
	SlaveID     SlaveID     `cbor:"slave_id" json:"slave_id"`
	Status      TaskStatus  `cbor:"status" json:"status"`
	Timestamp   time.Time   `cbor:"timestamp" json:"timestamp"`
}

// ExecutorArgs is handed to an executor when its registration is
// accepted.
type ExecutorArgs struct {
	FrameworkID FrameworkID `cbor:"framework_id" json:"framework_id"`
	ExecutorID  ExecutorID  `cbor:"executor_id" json:"executor_id"`
	SlaveID     SlaveID     `cbor:"slave_id" json:"slave_id"`
	Hostname    string      `cbor:"hostname" json:"hostname"`
	Data        []byte      `cbor:"data,omitempty" json:"data,omitempty"`
}
