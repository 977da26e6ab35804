package isolation

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/burrowlabs/burrow/pkg/config"
	"github.com/burrowlabs/burrow/pkg/log"
	"github.com/burrowlabs/burrow/pkg/resource"
	"github.com/burrowlabs/burrow/pkg/transport"
	"github.com/burrowlabs/burrow/pkg/types"
)

// ProcessIsolator runs each executor as a plain child process in its
// own process group. It enforces nothing: ResourcesChanged only
// records the new ceiling. Suitable for trusted single-tenant
// deployments and local development.
type ProcessIsolator struct {
	sink   CallbackSink
	logger zerolog.Logger

	conf  *config.Config
	local bool
	agent transport.PID

	mu      sync.Mutex
	running map[executorKey]*os.Process
}

// NewProcessIsolator builds a process isolator reporting to sink.
func NewProcessIsolator(sink CallbackSink) *ProcessIsolator {
	return &ProcessIsolator{
		sink:    sink,
		running: make(map[executorKey]*os.Process),
	}
}

// Initialize records the agent configuration.
func (p *ProcessIsolator) Initialize(conf *config.Config, local bool, agent transport.PID) error {
	p.logger = log.WithComponent("isolation.process")
	p.conf = conf
	p.local = local
	p.agent = agent
	return nil
}

// LaunchExecutor fetches the executor binary and starts it inside the
// work directory. The exit status is reaped on a goroutine and
// reported through the sink.
func (p *ProcessIsolator) LaunchExecutor(frameworkID types.FrameworkID,
	framework types.FrameworkInfo, executor types.ExecutorInfo, directory string) error {

	binary, err := Fetch(executor.URI, directory, p.conf)
	if err != nil {
		p.sink.ExecutorExited(frameworkID, executor.ExecutorID, -1)
		return fmt.Errorf("failed to fetch executor: %w", err)
	}

	cmd := exec.Command(binary)
	cmd.Dir = directory
	cmd.Env = append(os.Environ(),
		"BURROW_AGENT_PID="+p.agent.String(),
		"BURROW_FRAMEWORK_ID="+string(frameworkID),
		"BURROW_EXECUTOR_ID="+string(executor.ExecutorID),
		"BURROW_WORK_DIRECTORY="+directory,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if p.conf.SwitchUser && framework.User != "" {
		if cred, err := lookupCredential(framework.User); err != nil {
			p.logger.Warn().Err(err).
				Str("user", framework.User).
				Msg("Cannot switch user, running executor as agent user")
		} else {
			cmd.SysProcAttr.Credential = cred
		}
	}

	if err := cmd.Start(); err != nil {
		p.sink.ExecutorExited(frameworkID, executor.ExecutorID, -1)
		return fmt.Errorf("failed to start executor %s: %w", executor.ExecutorID, err)
	}

	key := executorKey{frameworkID, executor.ExecutorID}
	p.mu.Lock()
	p.running[key] = cmd.Process
	p.mu.Unlock()

	p.logger.Info().
		Str("framework_id", string(frameworkID)).
		Str("executor_id", string(executor.ExecutorID)).
		Int("pid", cmd.Process.Pid).
		Msg("Launched executor process")
	p.sink.ExecutorStarted(frameworkID, executor.ExecutorID, cmd.Process.Pid)

	go p.reap(key, cmd)
	return nil
}

func (p *ProcessIsolator) reap(key executorKey, cmd *exec.Cmd) {
	err := cmd.Wait()

	p.mu.Lock()
	delete(p.running, key)
	p.mu.Unlock()

	p.sink.ExecutorExited(key.frameworkID, key.executorID, exitStatus(err))
}

// exitStatus maps a Wait error to the conventional shell encoding:
// the exit code for normal exits, 128+signal for signal deaths.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1
	}
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return exitErr.ExitCode()
	}
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ws.ExitStatus()
}

// ResourcesChanged records the revised ceiling. The process isolator
// does not enforce limits.
func (p *ProcessIsolator) ResourcesChanged(frameworkID types.FrameworkID,
	executorID types.ExecutorID, resources resource.Resources) error {
	p.logger.Debug().
		Str("framework_id", string(frameworkID)).
		Str("executor_id", string(executorID)).
		Str("resources", resources.String()).
		Msg("Executor resource ceiling changed")
	return nil
}

// KillExecutor kills the executor's process group.
func (p *ProcessIsolator) KillExecutor(frameworkID types.FrameworkID,
	executorID types.ExecutorID) error {
	p.mu.Lock()
	proc, ok := p.running[executorKey{frameworkID, executorID}]
	p.mu.Unlock()
	if !ok {
		p.logger.Warn().
			Str("framework_id", string(frameworkID)).
			Str("executor_id", string(executorID)).
			Msg("Asked to kill unknown executor")
		return nil
	}

	// Negative pid signals the whole process group.
	if err := syscall.Kill(-proc.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill executor %s: %w", executorID, err)
	}
	return nil
}

func lookupCredential(username string) (*syscall.Credential, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("malformed uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("malformed gid %q: %w", u.Gid, err)
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}
