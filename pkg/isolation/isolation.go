// Package isolation launches, bounds, and terminates executor
// processes on behalf of the agent. The agent addresses the isolation
// layer exclusively through asynchronous dispatch; results come back
// as callbacks on the agent's own queue.
package isolation

import (
	"github.com/burrowlabs/burrow/pkg/config"
	"github.com/burrowlabs/burrow/pkg/resource"
	"github.com/burrowlabs/burrow/pkg/transport"
	"github.com/burrowlabs/burrow/pkg/types"
)

// Isolator is the pluggable contract for executor isolation.
type Isolator interface {
	// Initialize is called once before any other operation.
	Initialize(conf *config.Config, local bool, agent transport.PID) error

	// LaunchExecutor starts an executor in the given work directory.
	// Success is reported later through ExecutorStarted; failure
	// through ExecutorExited.
	LaunchExecutor(frameworkID types.FrameworkID, framework types.FrameworkInfo,
		executor types.ExecutorInfo, directory string) error

	// ResourcesChanged informs the isolator of the revised resource
	// ceiling for a running executor.
	ResourcesChanged(frameworkID types.FrameworkID, executorID types.ExecutorID,
		resources resource.Resources) error

	// KillExecutor terminates a running executor.
	KillExecutor(frameworkID types.FrameworkID, executorID types.ExecutorID) error
}

// CallbackSink receives isolator notifications. The agent implements
// it by enqueueing onto its event loop.
type CallbackSink interface {
	ExecutorStarted(frameworkID types.FrameworkID, executorID types.ExecutorID, pid int)
	ExecutorExited(frameworkID types.FrameworkID, executorID types.ExecutorID, status int)
}

type executorKey struct {
	frameworkID types.FrameworkID
	executorID  types.ExecutorID
}
