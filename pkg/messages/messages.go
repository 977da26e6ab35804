// Package messages defines the typed messages exchanged between the
// agent, the master, framework schedulers, and executors, together
// with their CBOR wire codec and a decode registry keyed by message
// type name.
package messages

import (
	"fmt"

	"github.com/burrowlabs/burrow/pkg/types"
)

// Message is implemented by every wire message.
type Message interface {
	// TypeName is the registry key carried in the envelope.
	TypeName() string
}

// Inbound from the master.

type RunTask struct {
	Framework   types.FrameworkInfo   `cbor:"framework"`
	FrameworkID types.FrameworkID     `cbor:"framework_id"`
	Pid         string                `cbor:"pid"`
	Task        types.TaskDescription `cbor:"task"`
}

type KillTask struct {
	FrameworkID types.FrameworkID `cbor:"framework_id"`
	TaskID      types.TaskID      `cbor:"task_id"`
}

type KillFramework struct {
	FrameworkID types.FrameworkID `cbor:"framework_id"`
}

type FrameworkToExecutor struct {
	SlaveID     types.SlaveID     `cbor:"slave_id"`
	FrameworkID types.FrameworkID `cbor:"framework_id"`
	ExecutorID  types.ExecutorID  `cbor:"executor_id"`
	Data        []byte            `cbor:"data"`
}

type UpdateFramework struct {
	FrameworkID types.FrameworkID `cbor:"framework_id"`
	Pid         string            `cbor:"pid"`
}

type StatusUpdateAcknowledgement struct {
	SlaveID     types.SlaveID     `cbor:"slave_id"`
	FrameworkID types.FrameworkID `cbor:"framework_id"`
	TaskID      types.TaskID      `cbor:"task_id"`
}

type SlaveRegistered struct {
	SlaveID types.SlaveID `cbor:"slave_id"`
}

type SlaveReregistered struct {
	SlaveID types.SlaveID `cbor:"slave_id"`
}

// Inbound from executors.

type RegisterExecutor struct {
	FrameworkID types.FrameworkID `cbor:"framework_id"`
	ExecutorID  types.ExecutorID  `cbor:"executor_id"`
}

type StatusUpdate struct {
	Update   types.StatusUpdate `cbor:"update"`
	Reliable bool               `cbor:"reliable"`
}

type ExecutorToFramework struct {
	SlaveID     types.SlaveID     `cbor:"slave_id"`
	FrameworkID types.FrameworkID `cbor:"framework_id"`
	ExecutorID  types.ExecutorID  `cbor:"executor_id"`
	Data        []byte            `cbor:"data"`
}

// Outbound to the master.

type RegisterSlave struct {
	Slave types.SlaveInfo `cbor:"slave"`
}

type ReregisterSlave struct {
	SlaveID types.SlaveID   `cbor:"slave_id"`
	Slave   types.SlaveInfo `cbor:"slave"`
	Tasks   []types.Task    `cbor:"tasks"`
}

type ExitedExecutor struct {
	SlaveID     types.SlaveID     `cbor:"slave_id"`
	FrameworkID types.FrameworkID `cbor:"framework_id"`
	ExecutorID  types.ExecutorID  `cbor:"executor_id"`
	Status      int               `cbor:"status"`
}

// Outbound to executors.

type ExecutorRegistered struct {
	Args types.ExecutorArgs `cbor:"args"`
}

type Shutdown struct{}

// Liveness probes; any peer may send a Ping and gets a Pong back.

type Ping struct{}

type Pong struct{}

func (RunTask) TypeName() string                     { return "RunTask" }
func (KillTask) TypeName() string                    { return "KillTask" }
func (KillFramework) TypeName() string               { return "KillFramework" }
func (FrameworkToExecutor) TypeName() string         { return "FrameworkToExecutor" }
func (UpdateFramework) TypeName() string             { return "UpdateFramework" }
func (StatusUpdateAcknowledgement) TypeName() string { return "StatusUpdateAcknowledgement" }
func (SlaveRegistered) TypeName() string             { return "SlaveRegistered" }
func (SlaveReregistered) TypeName() string           { return "SlaveReregistered" }
func (RegisterExecutor) TypeName() string            { return "RegisterExecutor" }
func (StatusUpdate) TypeName() string                { return "StatusUpdate" }
func (ExecutorToFramework) TypeName() string         { return "ExecutorToFramework" }
func (RegisterSlave) TypeName() string               { return "RegisterSlave" }
func (ReregisterSlave) TypeName() string             { return "ReregisterSlave" }
func (ExitedExecutor) TypeName() string              { return "ExitedExecutor" }
func (ExecutorRegistered) TypeName() string          { return "ExecutorRegistered" }
func (Shutdown) TypeName() string                    { return "Shutdown" }
func (Ping) TypeName() string                        { return "PING" }
func (Pong) TypeName() string                        { return "PONG" }

// registry maps type names to factories producing pointers the codec
// can decode into.
var registry = map[string]func() Message{}

func register(factories ...func() Message) {
	for _, f := range factories {
		registry[f().TypeName()] = f
	}
}

func init() {
	register(
		func() Message { return &RunTask{} },
		func() Message { return &KillTask{} },
		func() Message { return &KillFramework{} },
		func() Message { return &FrameworkToExecutor{} },
		func() Message { return &UpdateFramework{} },
		func() Message { return &StatusUpdateAcknowledgement{} },
		func() Message { return &SlaveRegistered{} },
		func() Message { return &SlaveReregistered{} },
		func() Message { return &RegisterExecutor{} },
		func() Message { return &StatusUpdate{} },
		func() Message { return &ExecutorToFramework{} },
		func() Message { return &RegisterSlave{} },
		func() Message { return &ReregisterSlave{} },
		func() Message { return &ExitedExecutor{} },
		func() Message { return &ExecutorRegistered{} },
		func() Message { return &Shutdown{} },
		func() Message { return &Ping{} },
		func() Message { return &Pong{} },
	)
}

// Decode instantiates the message registered under typeName and
// decodes body into it.
func Decode(typeName string, body []byte) (Message, error) {
	factory, ok := registry[typeName]
	if !ok {
		return nil, fmt.Errorf("unknown message type %q", typeName)
	}
	msg := factory()
	if err := Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", typeName, err)
	}
	return msg, nil
}
