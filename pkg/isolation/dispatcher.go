package isolation

import (
	"github.com/rs/zerolog"

	"github.com/burrowlabs/burrow/pkg/config"
	"github.com/burrowlabs/burrow/pkg/log"
	"github.com/burrowlabs/burrow/pkg/resource"
	"github.com/burrowlabs/burrow/pkg/transport"
	"github.com/burrowlabs/burrow/pkg/types"
)

// Dispatcher runs an Isolator as its own actor: calls from the agent
// are fire-and-forget enqueues processed serially on the dispatcher's
// goroutine, so isolator implementations may block without stalling
// the agent loop.
type Dispatcher struct {
	isolator Isolator
	calls    chan func()
	done     chan struct{}
	logger   zerolog.Logger
}

// NewDispatcher wraps an isolator. Start must be called before use.
func NewDispatcher(isolator Isolator) *Dispatcher {
	return &Dispatcher{
		isolator: isolator,
		calls:    make(chan func(), 256),
		done:     make(chan struct{}),
	}
}

// Start begins processing calls.
func (d *Dispatcher) Start() {
	d.logger = log.WithComponent("isolation")
	go d.run()
}

// Stop drains pending calls and joins the dispatcher. The caller must
// not enqueue after Stop.
func (d *Dispatcher) Stop() {
	close(d.calls)
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for call := range d.calls {
		call()
	}
}

// Initialize dispatches Isolator.Initialize.
func (d *Dispatcher) Initialize(conf *config.Config, local bool, agent transport.PID) {
	d.calls <- func() {
		if err := d.isolator.Initialize(conf, local, agent); err != nil {
			d.logger.Error().Err(err).Msg("Failed to initialize isolator")
		}
	}
}

// LaunchExecutor dispatches Isolator.LaunchExecutor.
func (d *Dispatcher) LaunchExecutor(frameworkID types.FrameworkID, framework types.FrameworkInfo,
	executor types.ExecutorInfo, directory string) {
	d.calls <- func() {
		if err := d.isolator.LaunchExecutor(frameworkID, framework, executor, directory); err != nil {
			d.logger.Error().Err(err).
				Str("framework_id", string(frameworkID)).
				Str("executor_id", string(executor.ExecutorID)).
				Msg("Failed to launch executor")
		}
	}
}

// ResourcesChanged dispatches Isolator.ResourcesChanged.
func (d *Dispatcher) ResourcesChanged(frameworkID types.FrameworkID, executorID types.ExecutorID,
	resources resource.Resources) {
	d.calls <- func() {
		if err := d.isolator.ResourcesChanged(frameworkID, executorID, resources); err != nil {
			d.logger.Error().Err(err).
				Str("framework_id", string(frameworkID)).
				Str("executor_id", string(executorID)).
				Msg("Failed to update executor resources")
		}
	}
}

// KillExecutor dispatches Isolator.KillExecutor.
func (d *Dispatcher) KillExecutor(frameworkID types.FrameworkID, executorID types.ExecutorID) {
	d.calls <- func() {
		if err := d.isolator.KillExecutor(frameworkID, executorID); err != nil {
			d.logger.Error().Err(err).
				Str("framework_id", string(frameworkID)).
				Str("executor_id", string(executorID)).
				Msg("Failed to kill executor")
		}
	}
}
