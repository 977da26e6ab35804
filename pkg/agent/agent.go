package agent

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowlabs/burrow/pkg/config"
	"github.com/burrowlabs/burrow/pkg/events"
	"github.com/burrowlabs/burrow/pkg/log"
	"github.com/burrowlabs/burrow/pkg/messages"
	"github.com/burrowlabs/burrow/pkg/resource"
	"github.com/burrowlabs/burrow/pkg/transport"
	"github.com/burrowlabs/burrow/pkg/types"
)

// DefaultStatusUpdateRetryInterval is how long the agent waits for a
// master acknowledgement before re-sending a status update.
const DefaultStatusUpdateRetryInterval = 10 * time.Second

// mailboxDepth bounds the agent's event queue.
const mailboxDepth = 1024

// Messenger is the outbound half of the transport the agent sends
// through. *transport.Transport implements it.
type Messenger interface {
	PID() transport.PID
	Send(to transport.PID, msg messages.Message)
	Link(to transport.PID)
}

// Isolation is the asynchronous surface of the isolation layer.
// *isolation.Dispatcher implements it.
type Isolation interface {
	Initialize(conf *config.Config, local bool, agent transport.PID)
	LaunchExecutor(frameworkID types.FrameworkID, framework types.FrameworkInfo,
		executor types.ExecutorInfo, directory string)
	ResourcesChanged(frameworkID types.FrameworkID, executorID types.ExecutorID,
		resources resource.Resources)
	KillExecutor(frameworkID types.FrameworkID, executorID types.ExecutorID)
	Stop()
}

// Options configures an Agent.
type Options struct {
	Config    *config.Config
	Local     bool
	Messenger Messenger
	Isolation Isolation

	// Broker, when set, receives lifecycle events.
	Broker *events.Broker

	// RetryInterval overrides DefaultStatusUpdateRetryInterval.
	RetryInterval time.Duration
}

// Agent is the node agent: a single-goroutine actor that owns the
// framework → executor → task graph and mediates between the master,
// framework schedulers, executors, and the isolation layer. Every
// input — message, timer, isolation callback, snapshot request — is
// an event handled serially on the agent's mailbox.
type Agent struct {
	conf      *config.Config
	local     bool
	messenger Messenger
	isolation Isolation
	broker    *events.Broker
	logger    zerolog.Logger

	retryInterval time.Duration

	// State below is owned by the event loop goroutine.
	id         types.SlaveID
	master     transport.PID
	info       types.SlaveInfo
	resources  resource.Resources
	frameworks map[types.FrameworkID]*framework
	stats      stats
	startTime  time.Time
	stopping   bool

	mailbox chan func()
	done    chan struct{}
	wg      sync.WaitGroup
}

// New builds an agent. It resolves the local hostname (a failure here
// is fatal to the process's purpose and is returned as an error) and
// parses the configured resource bundle.
func New(opts Options) (*Agent, error) {
	resources, err := resource.Parse(opts.Config.Resources)
	if err != nil {
		return nil, fmt.Errorf("failed to parse resources: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}

	retry := opts.RetryInterval
	if retry <= 0 {
		retry = DefaultStatusUpdateRetryInterval
	}

	a := &Agent{
		conf:          opts.Config,
		local:         opts.Local,
		messenger:     opts.Messenger,
		isolation:     opts.Isolation,
		broker:        opts.Broker,
		logger:        log.WithComponent("agent"),
		retryInterval: retry,
		info: types.SlaveInfo{
			Hostname:       hostname,
			PublicHostname: config.PublicHostname(hostname),
			Resources:      resources,
			Attributes:     opts.Config.Attributes,
		},
		resources:  resources,
		frameworks: make(map[types.FrameworkID]*framework),
		stats:      newStats(),
		mailbox:    make(chan func(), mailboxDepth),
		done:       make(chan struct{}),
	}
	return a, nil
}

// Start launches the event loop and initializes the isolation layer.
func (a *Agent) Start() {
	a.startTime = time.Now()
	a.logger.Info().
		Str("pid", a.messenger.PID().String()).
		Str("resources", a.resources.String()).
		Msg("Agent started")

	a.isolation.Initialize(a.conf, a.local, a.messenger.PID())

	a.wg.Add(1)
	go a.run()
}

// Stop tears down every framework (shutting executors down), then
// stops and joins the isolation layer.
func (a *Agent) Stop() {
	a.post(func() { a.terminate() })
	a.wg.Wait()
	a.isolation.Stop()
}

func (a *Agent) run() {
	defer a.wg.Done()
	defer close(a.done)
	for event := range a.mailbox {
		event()
		if a.stopping {
			return
		}
	}
}

// post enqueues an event for the loop; events arriving after shutdown
// are dropped.
func (a *Agent) post(event func()) {
	select {
	case <-a.done:
	default:
		select {
		case a.mailbox <- event:
		case <-a.done:
		}
	}
}

// PID returns the agent's endpoint.
func (a *Agent) PID() transport.PID {
	return a.messenger.PID()
}

// HandleMessage implements transport.Handler; it funnels inbound
// messages into the event loop.
func (a *Agent) HandleMessage(from transport.PID, msg messages.Message) {
	a.post(func() { a.handle(from, msg) })
}

// HandleExited implements transport.Handler for linked-peer exits.
func (a *Agent) HandleExited(peer transport.PID) {
	a.post(func() { a.exited(peer) })
}

// NewMasterDetected implements detector.Listener.
func (a *Agent) NewMasterDetected(master transport.PID) {
	a.post(func() { a.newMasterDetected(master) })
}

// NoMasterDetected implements detector.Listener.
func (a *Agent) NoMasterDetected() {
	a.post(func() { a.noMasterDetected() })
}

// ExecutorStarted implements isolation.CallbackSink.
func (a *Agent) ExecutorStarted(frameworkID types.FrameworkID, executorID types.ExecutorID, pid int) {
	a.post(func() { a.executorStarted(frameworkID, executorID, pid) })
}

// ExecutorExited implements isolation.CallbackSink.
func (a *Agent) ExecutorExited(frameworkID types.FrameworkID, executorID types.ExecutorID, status int) {
	a.post(func() { a.executorExited(frameworkID, executorID, status) })
}

// handle dispatches one inbound message on the loop goroutine.
func (a *Agent) handle(from transport.PID, msg messages.Message) {
	switch m := msg.(type) {
	case *messages.RunTask:
		a.runTask(m.Framework, m.FrameworkID, m.Pid, m.Task)
	case *messages.KillTask:
		a.killTask(m.FrameworkID, m.TaskID)
	case *messages.KillFramework:
		a.killFramework(m.FrameworkID)
	case *messages.FrameworkToExecutor:
		a.schedulerMessage(m.SlaveID, m.FrameworkID, m.ExecutorID, m.Data)
	case *messages.UpdateFramework:
		a.updateFramework(m.FrameworkID, m.Pid)
	case *messages.StatusUpdateAcknowledgement:
		a.statusUpdateAcknowledgement(m.SlaveID, m.FrameworkID, m.TaskID)
	case *messages.SlaveRegistered:
		a.registered(m.SlaveID)
	case *messages.SlaveReregistered:
		a.reregistered(m.SlaveID)
	case *messages.RegisterExecutor:
		a.registerExecutor(from, m.FrameworkID, m.ExecutorID)
	case *messages.StatusUpdate:
		a.statusUpdate(m.Update)
	case *messages.ExecutorToFramework:
		a.executorMessage(m.SlaveID, m.FrameworkID, m.ExecutorID, m.Data)
	case *messages.Ping:
		a.messenger.Send(from, messages.Pong{})
	default:
		a.logger.Warn().
			Str("type", msg.TypeName()).
			Str("from", from.String()).
			Msg("Dropping unexpected message")
	}
}

func (a *Agent) publish(event *events.Event) {
	if a.broker != nil {
		a.broker.Publish(event)
	}
}

// parsePID tolerates empty and malformed endpoint strings, logging
// the latter.
func (a *Agent) parsePID(s string) transport.PID {
	if s == "" {
		return transport.PID{}
	}
	pid, err := transport.ParsePID(s)
	if err != nil {
		a.logger.Warn().Err(err).Str("pid", s).Msg("Ignoring malformed endpoint")
		return transport.PID{}
	}
	return pid
}
