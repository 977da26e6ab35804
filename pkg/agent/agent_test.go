package agent

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowlabs/burrow/pkg/config"
	"github.com/burrowlabs/burrow/pkg/log"
	"github.com/burrowlabs/burrow/pkg/messages"
	"github.com/burrowlabs/burrow/pkg/resource"
	"github.com/burrowlabs/burrow/pkg/transport"
	"github.com/burrowlabs/burrow/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

var (
	masterPID   = transport.PID{ID: "master", Addr: "10.0.0.1:5050"}
	schedPID    = transport.PID{ID: "scheduler", Addr: "10.0.0.2:6060"}
	executorPID = transport.PID{ID: "executor(1)", Addr: "127.0.0.1:40001"}
)

type sentMessage struct {
	to  transport.PID
	msg messages.Message
}

type fakeMessenger struct {
	pid transport.PID

	mu     sync.Mutex
	sent   []sentMessage
	linked []transport.PID

	// onSend, when set, observes sends on the agent's loop goroutine.
	onSend func(to transport.PID, msg messages.Message)
}

func (m *fakeMessenger) PID() transport.PID { return m.pid }

func (m *fakeMessenger) Send(to transport.PID, msg messages.Message) {
	if m.onSend != nil {
		m.onSend(to, msg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{to: to, msg: msg})
}

func (m *fakeMessenger) Link(to transport.PID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linked = append(m.linked, to)
}

func (m *fakeMessenger) sentTo(to transport.PID) []messages.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []messages.Message
	for _, s := range m.sent {
		if s.to == to {
			out = append(out, s.msg)
		}
	}
	return out
}

func (m *fakeMessenger) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

type isolationCall struct {
	name        string
	frameworkID types.FrameworkID
	executorID  types.ExecutorID
	resources   resource.Resources
	directory   string
}

type fakeIsolation struct {
	mu    sync.Mutex
	calls []isolationCall
}

func (f *fakeIsolation) Initialize(conf *config.Config, local bool, agent transport.PID) {
	f.record(isolationCall{name: "initialize"})
}

func (f *fakeIsolation) LaunchExecutor(frameworkID types.FrameworkID,
	framework types.FrameworkInfo, executor types.ExecutorInfo, directory string) {
	f.record(isolationCall{
		name:        "launchExecutor",
		frameworkID: frameworkID,
		executorID:  executor.ExecutorID,
		directory:   directory,
	})
}

func (f *fakeIsolation) ResourcesChanged(frameworkID types.FrameworkID,
	executorID types.ExecutorID, resources resource.Resources) {
	f.record(isolationCall{
		name:        "resourcesChanged",
		frameworkID: frameworkID,
		executorID:  executorID,
		resources:   resources,
	})
}

func (f *fakeIsolation) KillExecutor(frameworkID types.FrameworkID, executorID types.ExecutorID) {
	f.record(isolationCall{name: "killExecutor", frameworkID: frameworkID, executorID: executorID})
}

func (f *fakeIsolation) Stop() {}

func (f *fakeIsolation) record(call isolationCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeIsolation) named(name string) []isolationCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []isolationCall
	for _, c := range f.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func newTestAgent(t *testing.T, resources string) (*Agent, *fakeMessenger, *fakeIsolation) {
	t.Helper()
	cfg := config.Default()
	cfg.Resources = resources
	cfg.WorkDir = t.TempDir()
	cfg.SwitchUser = false

	messenger := &fakeMessenger{pid: transport.PID{ID: "slave", Addr: "127.0.0.1:5051"}}
	iso := &fakeIsolation{}

	a, err := New(Options{
		Config:        cfg,
		Local:         true,
		Messenger:     messenger,
		Isolation:     iso,
		RetryInterval: 40 * time.Millisecond,
	})
	require.NoError(t, err)
	a.Start()
	t.Cleanup(a.Stop)
	return a, messenger, iso
}

// barrier waits until the agent has processed everything posted so
// far.
func barrier(a *Agent) {
	done := make(chan struct{})
	a.post(func() { close(done) })
	<-done
}

// inspect runs f on the agent's loop goroutine and waits for it.
func inspect(a *Agent, f func()) {
	done := make(chan struct{})
	a.post(func() { f(); close(done) })
	<-done
}

func registerAgent(a *Agent, slaveID types.SlaveID) {
	a.NewMasterDetected(masterPID)
	a.HandleMessage(masterPID, &messages.SlaveRegistered{SlaveID: slaveID})
	barrier(a)
}

func defaultFramework() types.FrameworkInfo {
	return types.FrameworkInfo{
		Name: "analytics",
		User: "tenant",
		Executor: types.ExecutorInfo{
			ExecutorID: "e1",
			URI:        "/opt/frameworks/analytics/executor",
		},
	}
}

func runTask(a *Agent, taskID types.TaskID, res string) {
	a.HandleMessage(masterPID, &messages.RunTask{
		Framework:   defaultFramework(),
		FrameworkID: "f1",
		Pid:         schedPID.String(),
		Task: types.TaskDescription{
			TaskID:    taskID,
			Name:      "crunch",
			SlaveID:   "s7",
			Resources: resource.MustParse(res),
		},
	})
}

// S1: registration advertises the configured resources and hostname.
func TestRegistrationSendsResources(t *testing.T) {
	a, messenger, _ := newTestAgent(t, "cpus:4;mem:2048")

	a.NewMasterDetected(masterPID)
	a.HandleMessage(masterPID, &messages.SlaveRegistered{SlaveID: "7"})
	barrier(a)

	sent := messenger.sentTo(masterPID)
	require.Len(t, sent, 1)
	reg, ok := sent[0].(messages.RegisterSlave)
	require.True(t, ok, "expected RegisterSlave, got %T", sent[0])
	assert.Equal(t, 4.0, reg.Slave.Resources.Scalar("cpus"))
	assert.Equal(t, 2048.0, reg.Slave.Resources.Scalar("mem"))
	assert.NotEmpty(t, reg.Slave.Hostname)

	messenger.mu.Lock()
	defer messenger.mu.Unlock()
	assert.Contains(t, messenger.linked, masterPID)

	inspect(a, func() {
		assert.Equal(t, types.SlaveID("7"), a.id)
	})
}

// S2: a task for an unknown framework creates the framework and an
// executor, queues the task, and launches the executor exactly once.
func TestRunTaskQueuesUntilExecutorStarts(t *testing.T) {
	a, messenger, iso := newTestAgent(t, "cpus:4;mem:2048")
	registerAgent(a, "s7")
	messenger.reset()

	runTask(a, "t1", "cpus:1;mem:256")
	barrier(a)

	launches := iso.named("launchExecutor")
	require.Len(t, launches, 1)
	assert.Equal(t, types.FrameworkID("f1"), launches[0].frameworkID)
	assert.Equal(t, types.ExecutorID("e1"), launches[0].executorID)
	assert.NotEmpty(t, launches[0].directory)

	// No outbound traffic until the executor registers.
	assert.Empty(t, messenger.sentTo(executorPID))

	inspect(a, func() {
		f := a.frameworks["f1"]
		require.NotNil(t, f)
		e := f.executorByID("e1")
		require.NotNil(t, e)
		require.Len(t, e.queuedTasks, 1)
		assert.Equal(t, types.TaskID("t1"), e.queuedTasks[0].TaskID)
		assert.Empty(t, e.launchedTasks)
		assert.True(t, e.resources.Empty())
	})
}

// S3 / property 1: registration drains the queue in arrival order,
// after an ExecutorRegistered, and the ledger picks up the tasks.
func TestRegisterExecutorDrainsQueueInOrder(t *testing.T) {
	a, messenger, iso := newTestAgent(t, "cpus:4;mem:2048")
	registerAgent(a, "s7")

	runTask(a, "t1", "cpus:1;mem:256")
	runTask(a, "t2", "cpus:1;mem:128")
	barrier(a)
	messenger.reset()

	a.HandleMessage(executorPID, &messages.RegisterExecutor{FrameworkID: "f1", ExecutorID: "e1"})
	barrier(a)

	sent := messenger.sentTo(executorPID)
	require.Len(t, sent, 3)
	registered, ok := sent[0].(messages.ExecutorRegistered)
	require.True(t, ok, "first message must be ExecutorRegistered, got %T", sent[0])
	assert.Equal(t, types.SlaveID("s7"), registered.Args.SlaveID)
	assert.Equal(t, types.FrameworkID("f1"), registered.Args.FrameworkID)

	run1, ok := sent[1].(messages.RunTask)
	require.True(t, ok)
	assert.Equal(t, types.TaskID("t1"), run1.Task.TaskID)
	run2, ok := sent[2].(messages.RunTask)
	require.True(t, ok)
	assert.Equal(t, types.TaskID("t2"), run2.Task.TaskID)

	changed := iso.named("resourcesChanged")
	require.NotEmpty(t, changed)
	assert.Equal(t, types.ExecutorID("e1"), changed[0].executorID)
	last := changed[len(changed)-1]
	assert.Equal(t, 2.0, last.resources.Scalar("cpus"))
	assert.Equal(t, 384.0, last.resources.Scalar("mem"))

	inspect(a, func() {
		e := a.frameworks["f1"].executorByID("e1")
		assert.Empty(t, e.queuedTasks)
		assert.Len(t, e.launchedTasks, 2)
		assert.Equal(t, 2.0, e.resources.Scalar("cpus"))
		assert.Equal(t, 384.0, e.resources.Scalar("mem"))
		assert.Equal(t, types.TaskStarting, e.launchedTasks["t1"].State)
	})
}

// S4 / properties 2 and 6: a terminal update removes the task and its
// resources before the reliable send, and notifies isolation.
func TestTerminalStatusUpdate(t *testing.T) {
	a, messenger, iso := newTestAgent(t, "cpus:4;mem:2048")
	registerAgent(a, "s7")
	runTask(a, "t1", "cpus:1;mem:256")
	a.HandleMessage(executorPID, &messages.RegisterExecutor{FrameworkID: "f1", ExecutorID: "e1"})
	barrier(a)
	messenger.reset()

	// Observe graph state at the instant the update leaves for the
	// master: the task must already be gone (property 6).
	var taskPresentAtSend bool
	messenger.onSend = func(to transport.PID, msg messages.Message) {
		if _, ok := msg.(messages.StatusUpdate); ok && to == masterPID {
			e := a.frameworks["f1"].executorByID("e1")
			_, taskPresentAtSend = e.launchedTasks["t1"]
		}
	}

	update := types.StatusUpdate{
		UUID:        "u-1",
		FrameworkID: "f1",
		ExecutorID:  "e1",
		SlaveID:     "s7",
		Status:      types.TaskStatus{TaskID: "t1", State: types.TaskFinished},
		Timestamp:   time.Now(),
	}
	a.HandleMessage(executorPID, &messages.StatusUpdate{Update: update, Reliable: true})
	barrier(a)
	messenger.onSend = nil

	assert.False(t, taskPresentAtSend, "terminal task must be removed before upstream send")

	sent := messenger.sentTo(masterPID)
	require.NotEmpty(t, sent)
	forwarded, ok := sent[0].(messages.StatusUpdate)
	require.True(t, ok)
	assert.True(t, forwarded.Reliable)
	assert.Equal(t, update.UUID, forwarded.Update.UUID)

	changed := iso.named("resourcesChanged")
	require.NotEmpty(t, changed)
	last := changed[len(changed)-1]
	assert.True(t, last.resources.Empty(), "ledger must be empty after the only task finished")

	inspect(a, func() {
		f := a.frameworks["f1"]
		assert.Empty(t, f.executorByID("e1").launchedTasks)
		assert.Contains(t, f.updates, types.TaskID("t1"))
		assert.Equal(t, uint64(1), a.stats.tasks[types.TaskFinished])
		assert.Equal(t, uint64(1), a.stats.validStatusUpdates)
	})
}

// Property 3: unacknowledged updates are re-sent bit-for-bit, and the
// retry re-arms.
func TestStatusUpdateRetriesUntilAcknowledged(t *testing.T) {
	a, messenger, _ := newTestAgent(t, "cpus:4;mem:2048")
	registerAgent(a, "s7")
	runTask(a, "t1", "cpus:1;mem:256")
	a.HandleMessage(executorPID, &messages.RegisterExecutor{FrameworkID: "f1", ExecutorID: "e1"})
	barrier(a)
	messenger.reset()

	update := types.StatusUpdate{
		UUID:        "u-retry",
		FrameworkID: "f1",
		ExecutorID:  "e1",
		SlaveID:     "s7",
		Status:      types.TaskStatus{TaskID: "t1", State: types.TaskRunning},
		Timestamp:   time.Now().UTC(),
	}
	a.HandleMessage(executorPID, &messages.StatusUpdate{Update: update, Reliable: true})

	// The original send plus at least two re-sends proves the timer
	// re-arms after a retry.
	var updates []messages.StatusUpdate
	deadline := time.Now().Add(5 * time.Second)
	for len(updates) < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		updates = updates[:0]
		for _, msg := range messenger.sentTo(masterPID) {
			if su, ok := msg.(messages.StatusUpdate); ok {
				updates = append(updates, su)
			}
		}
	}
	require.GreaterOrEqual(t, len(updates), 3)
	for _, su := range updates {
		assert.True(t, su.Reliable)
		assert.Equal(t, update, su.Update, "retries must carry the identical update")
	}

	// Property 4: acknowledgement clears the pending set and stops
	// the retries.
	a.HandleMessage(masterPID, &messages.StatusUpdateAcknowledgement{
		SlaveID: "s7", FrameworkID: "f1", TaskID: "t1",
	})
	barrier(a)
	inspect(a, func() {
		f := a.frameworks["f1"]
		require.NotNil(t, f)
		assert.NotContains(t, f.updates, types.TaskID("t1"))
	})

	messenger.reset()
	time.Sleep(100 * time.Millisecond)
	barrier(a)
	assert.Empty(t, messenger.sentTo(masterPID), "no retries after acknowledgement")
}

// S5: killing an unknown task fabricates a non-reliable TASK_LOST.
func TestKillTaskUnknown(t *testing.T) {
	tests := []struct {
		name           string
		setupFramework bool
	}{
		{name: "unknown framework", setupFramework: false},
		{name: "unknown task in known framework", setupFramework: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, messenger, _ := newTestAgent(t, "cpus:4;mem:2048")
			registerAgent(a, "s7")
			if tt.setupFramework {
				runTask(a, "other", "cpus:1;mem:64")
				barrier(a)
			}
			messenger.reset()

			a.HandleMessage(masterPID, &messages.KillTask{FrameworkID: "f1", TaskID: "t-missing"})
			barrier(a)

			sent := messenger.sentTo(masterPID)
			require.Len(t, sent, 1)
			su, ok := sent[0].(messages.StatusUpdate)
			require.True(t, ok)
			assert.False(t, su.Reliable)
			assert.Equal(t, types.TaskLost, su.Update.Status.State)
			assert.Equal(t, types.TaskID("t-missing"), su.Update.Status.TaskID)

			assert.Empty(t, messenger.sentTo(executorPID), "no executor traffic")
		})
	}
}

// Killing a task whose executor has not registered drops it locally
// and fabricates TASK_KILLED.
func TestKillTaskBeforeExecutorRegisters(t *testing.T) {
	a, messenger, iso := newTestAgent(t, "cpus:4;mem:2048")
	registerAgent(a, "s7")
	runTask(a, "t1", "cpus:1;mem:256")
	barrier(a)
	messenger.reset()

	a.HandleMessage(masterPID, &messages.KillTask{FrameworkID: "f1", TaskID: "t1"})
	barrier(a)

	sent := messenger.sentTo(masterPID)
	require.Len(t, sent, 1)
	su, ok := sent[0].(messages.StatusUpdate)
	require.True(t, ok)
	assert.False(t, su.Reliable)
	assert.Equal(t, types.TaskKilled, su.Update.Status.State)

	assert.NotEmpty(t, iso.named("resourcesChanged"))
	inspect(a, func() {
		e := a.frameworks["f1"].executorByID("e1")
		assert.Empty(t, e.queuedTasks)
	})
}

// Killing a launched task defers to the executor.
func TestKillTaskForwardsToRegisteredExecutor(t *testing.T) {
	a, messenger, _ := newTestAgent(t, "cpus:4;mem:2048")
	registerAgent(a, "s7")
	runTask(a, "t1", "cpus:1;mem:256")
	a.HandleMessage(executorPID, &messages.RegisterExecutor{FrameworkID: "f1", ExecutorID: "e1"})
	barrier(a)
	messenger.reset()

	a.HandleMessage(masterPID, &messages.KillTask{FrameworkID: "f1", TaskID: "t1"})
	barrier(a)

	sent := messenger.sentTo(executorPID)
	require.Len(t, sent, 1)
	kill, ok := sent[0].(messages.KillTask)
	require.True(t, ok)
	assert.Equal(t, types.TaskID("t1"), kill.TaskID)
	assert.Empty(t, messenger.sentTo(masterPID), "no fabricated update")
}

// S6: an executor exit is reported upstream, the executor is removed,
// and an otherwise-empty framework goes with it.
func TestExecutorExitedRemovesExecutorAndFramework(t *testing.T) {
	a, messenger, iso := newTestAgent(t, "cpus:4;mem:2048")
	registerAgent(a, "s7")
	runTask(a, "t1", "cpus:1;mem:256")
	a.HandleMessage(executorPID, &messages.RegisterExecutor{FrameworkID: "f1", ExecutorID: "e1"})
	barrier(a)
	messenger.reset()

	a.ExecutorExited("f1", "e1", 137)
	barrier(a)

	sent := messenger.sentTo(masterPID)
	require.Len(t, sent, 1)
	exited, ok := sent[0].(messages.ExitedExecutor)
	require.True(t, ok)
	assert.Equal(t, 137, exited.Status)
	assert.Equal(t, types.ExecutorID("e1"), exited.ExecutorID)

	// The executor already exited; no kill is issued.
	assert.Empty(t, iso.named("killExecutor"))

	inspect(a, func() {
		assert.NotContains(t, a.frameworks, types.FrameworkID("f1"))
	})
}

// The framework outlives its last executor while updates are pending,
// and is collected by the acknowledgement.
func TestFrameworkRetainedWhileUpdatesPending(t *testing.T) {
	a, _, _ := newTestAgent(t, "cpus:4;mem:2048")
	registerAgent(a, "s7")
	runTask(a, "t1", "cpus:1;mem:256")
	a.HandleMessage(executorPID, &messages.RegisterExecutor{FrameworkID: "f1", ExecutorID: "e1"})

	a.HandleMessage(executorPID, &messages.StatusUpdate{Update: types.StatusUpdate{
		UUID:        "u-2",
		FrameworkID: "f1",
		ExecutorID:  "e1",
		SlaveID:     "s7",
		Status:      types.TaskStatus{TaskID: "t1", State: types.TaskFailed},
		Timestamp:   time.Now(),
	}, Reliable: true})
	a.ExecutorExited("f1", "e1", 1)
	barrier(a)

	inspect(a, func() {
		f := a.frameworks["f1"]
		require.NotNil(t, f, "framework must be retained while an update is unacknowledged")
		assert.Empty(t, f.executors)
		assert.Contains(t, f.updates, types.TaskID("t1"))
	})

	a.HandleMessage(masterPID, &messages.StatusUpdateAcknowledgement{
		SlaveID: "s7", FrameworkID: "f1", TaskID: "t1",
	})
	barrier(a)

	inspect(a, func() {
		assert.NotContains(t, a.frameworks, types.FrameworkID("f1"))
	})
}

// Property 5: re-registration enumerates every launched task.
func TestReregistrationEnumeratesLaunchedTasks(t *testing.T) {
	a, messenger, _ := newTestAgent(t, "cpus:8;mem:4096")
	registerAgent(a, "s7")
	runTask(a, "t1", "cpus:1;mem:256")
	runTask(a, "t2", "cpus:1;mem:128")
	a.HandleMessage(executorPID, &messages.RegisterExecutor{FrameworkID: "f1", ExecutorID: "e1"})
	barrier(a)
	messenger.reset()

	failedOver := transport.PID{ID: "master", Addr: "10.0.0.9:5050"}
	a.NewMasterDetected(failedOver)
	a.HandleMessage(failedOver, &messages.SlaveReregistered{SlaveID: "s7"})
	barrier(a)

	sent := messenger.sentTo(failedOver)
	require.NotEmpty(t, sent)
	rereg, ok := sent[0].(messages.ReregisterSlave)
	require.True(t, ok, "expected ReregisterSlave, got %T", sent[0])
	assert.Equal(t, types.SlaveID("s7"), rereg.SlaveID)

	ids := map[types.TaskID]bool{}
	for _, task := range rereg.Tasks {
		ids[task.TaskID] = true
	}
	assert.Equal(t, map[types.TaskID]bool{"t1": true, "t2": true}, ids)
}

func TestRegisterExecutorFailureModes(t *testing.T) {
	tests := []struct {
		name  string
		setup func(a *Agent)
		msg   messages.RegisterExecutor
	}{
		{
			name:  "unknown framework",
			setup: func(a *Agent) {},
			msg:   messages.RegisterExecutor{FrameworkID: "nope", ExecutorID: "e1"},
		},
		{
			name: "unknown executor",
			setup: func(a *Agent) {
				runTask(a, "t1", "cpus:1;mem:64")
			},
			msg: messages.RegisterExecutor{FrameworkID: "f1", ExecutorID: "impostor"},
		},
		{
			name: "already registered",
			setup: func(a *Agent) {
				runTask(a, "t1", "cpus:1;mem:64")
				a.HandleMessage(transport.PID{ID: "executor(1)", Addr: "127.0.0.1:40002"},
					&messages.RegisterExecutor{FrameworkID: "f1", ExecutorID: "e1"})
			},
			msg: messages.RegisterExecutor{FrameworkID: "f1", ExecutorID: "e1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, messenger, _ := newTestAgent(t, "cpus:4;mem:2048")
			registerAgent(a, "s7")
			tt.setup(a)
			barrier(a)

			impostor := transport.PID{ID: "executor(9)", Addr: "127.0.0.1:49999"}
			messenger.reset()
			a.HandleMessage(impostor, &tt.msg)
			barrier(a)

			sent := messenger.sentTo(impostor)
			require.Len(t, sent, 1)
			_, ok := sent[0].(messages.Shutdown)
			assert.True(t, ok, "expected Shutdown, got %T", sent[0])
		})
	}
}

func TestKillFrameworkShutsDownExecutors(t *testing.T) {
	a, messenger, iso := newTestAgent(t, "cpus:4;mem:2048")
	registerAgent(a, "s7")
	runTask(a, "t1", "cpus:1;mem:256")
	a.HandleMessage(executorPID, &messages.RegisterExecutor{FrameworkID: "f1", ExecutorID: "e1"})
	barrier(a)
	messenger.reset()

	a.HandleMessage(masterPID, &messages.KillFramework{FrameworkID: "f1"})
	barrier(a)

	sent := messenger.sentTo(executorPID)
	require.Len(t, sent, 1)
	_, ok := sent[0].(messages.Shutdown)
	assert.True(t, ok)

	kills := iso.named("killExecutor")
	require.Len(t, kills, 1)
	assert.Equal(t, types.ExecutorID("e1"), kills[0].executorID)

	inspect(a, func() {
		assert.NotContains(t, a.frameworks, types.FrameworkID("f1"))
	})
}

func TestSchedulerMessageForwarding(t *testing.T) {
	a, messenger, _ := newTestAgent(t, "cpus:4;mem:2048")
	registerAgent(a, "s7")

	// Unknown framework: counted invalid, nothing forwarded.
	a.HandleMessage(schedPID, &messages.FrameworkToExecutor{
		SlaveID: "s7", FrameworkID: "f1", ExecutorID: "e1", Data: []byte("x"),
	})
	barrier(a)
	inspect(a, func() {
		assert.Equal(t, uint64(1), a.stats.invalidFrameworkMessages)
	})

	// Registered executor: forwarded and counted valid.
	runTask(a, "t1", "cpus:1;mem:64")
	a.HandleMessage(executorPID, &messages.RegisterExecutor{FrameworkID: "f1", ExecutorID: "e1"})
	barrier(a)
	messenger.reset()

	a.HandleMessage(schedPID, &messages.FrameworkToExecutor{
		SlaveID: "s7", FrameworkID: "f1", ExecutorID: "e1", Data: []byte("payload"),
	})
	barrier(a)

	sent := messenger.sentTo(executorPID)
	require.Len(t, sent, 1)
	fwd, ok := sent[0].(messages.FrameworkToExecutor)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), fwd.Data)
	inspect(a, func() {
		assert.Equal(t, uint64(1), a.stats.validFrameworkMessages)
	})
}

func TestExecutorMessageForwardsToScheduler(t *testing.T) {
	a, messenger, _ := newTestAgent(t, "cpus:4;mem:2048")
	registerAgent(a, "s7")
	runTask(a, "t1", "cpus:1;mem:64")
	barrier(a)
	messenger.reset()

	a.HandleMessage(executorPID, &messages.ExecutorToFramework{
		SlaveID: "s7", FrameworkID: "f1", ExecutorID: "e1", Data: []byte("result"),
	})
	barrier(a)

	sent := messenger.sentTo(schedPID)
	require.Len(t, sent, 1)
	fwd, ok := sent[0].(messages.ExecutorToFramework)
	require.True(t, ok)
	assert.Equal(t, []byte("result"), fwd.Data)
}

func TestUpdateFrameworkRepointsScheduler(t *testing.T) {
	a, messenger, _ := newTestAgent(t, "cpus:4;mem:2048")
	registerAgent(a, "s7")
	runTask(a, "t1", "cpus:1;mem:64")
	barrier(a)

	newSched := transport.PID{ID: "scheduler", Addr: "10.0.0.3:6061"}
	a.HandleMessage(masterPID, &messages.UpdateFramework{
		FrameworkID: "f1", Pid: newSched.String(),
	})
	barrier(a)
	messenger.reset()

	a.HandleMessage(executorPID, &messages.ExecutorToFramework{
		SlaveID: "s7", FrameworkID: "f1", ExecutorID: "e1", Data: []byte("x"),
	})
	barrier(a)

	assert.Len(t, messenger.sentTo(newSched), 1)
	assert.Empty(t, messenger.sentTo(schedPID))
}

func TestPingPong(t *testing.T) {
	a, messenger, _ := newTestAgent(t, "cpus:1;mem:64")
	peer := transport.PID{ID: "probe", Addr: "127.0.0.1:9"}

	a.HandleMessage(peer, &messages.Ping{})
	barrier(a)

	sent := messenger.sentTo(peer)
	require.Len(t, sent, 1)
	_, ok := sent[0].(messages.Pong)
	assert.True(t, ok)
}

func TestInvalidStatusUpdateCounted(t *testing.T) {
	a, messenger, _ := newTestAgent(t, "cpus:4;mem:2048")
	registerAgent(a, "s7")
	messenger.reset()

	a.HandleMessage(executorPID, &messages.StatusUpdate{Update: types.StatusUpdate{
		UUID:        "u-bogus",
		FrameworkID: "ghost",
		SlaveID:     "s7",
		Status:      types.TaskStatus{TaskID: "t1", State: types.TaskRunning},
	}})
	barrier(a)

	assert.Empty(t, messenger.sentTo(masterPID))
	inspect(a, func() {
		assert.Equal(t, uint64(1), a.stats.invalidStatusUpdates)
	})
}
