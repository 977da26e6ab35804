package isolation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"syscall"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"

	"github.com/burrowlabs/burrow/pkg/config"
	"github.com/burrowlabs/burrow/pkg/log"
	"github.com/burrowlabs/burrow/pkg/resource"
	"github.com/burrowlabs/burrow/pkg/transport"
	"github.com/burrowlabs/burrow/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace for agent executors
	DefaultNamespace = "burrow"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

type containerdExecutor struct {
	container containerd.Container
	task      containerd.Task
}

// ContainerdIsolator runs each executor inside a container. The
// executor URI names the container image; ResourcesChanged translates
// the cpus/mem scalars into cgroup limits on the running task.
type ContainerdIsolator struct {
	sink       CallbackSink
	socketPath string
	namespace  string
	logger     zerolog.Logger

	conf  *config.Config
	agent transport.PID

	client *containerd.Client

	mu      sync.Mutex
	running map[executorKey]*containerdExecutor
}

// NewContainerdIsolator builds a containerd isolator reporting to
// sink. An empty socketPath uses DefaultSocketPath.
func NewContainerdIsolator(sink CallbackSink, socketPath string) *ContainerdIsolator {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	return &ContainerdIsolator{
		sink:       sink,
		socketPath: socketPath,
		namespace:  DefaultNamespace,
		running:    make(map[executorKey]*containerdExecutor),
	}
}

// Initialize connects to containerd.
func (c *ContainerdIsolator) Initialize(conf *config.Config, local bool, agent transport.PID) error {
	c.logger = log.WithComponent("isolation.containerd")
	c.conf = conf
	c.agent = agent

	client, err := containerd.New(c.socketPath)
	if err != nil {
		return fmt.Errorf("failed to connect to containerd: %w", err)
	}
	c.client = client
	return nil
}

// Close drops the containerd connection.
func (c *ContainerdIsolator) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// LaunchExecutor pulls the executor image and starts it as a
// container task. Exit is observed on a goroutine and reported
// through the sink.
func (c *ContainerdIsolator) LaunchExecutor(frameworkID types.FrameworkID,
	framework types.FrameworkInfo, executor types.ExecutorInfo, directory string) error {

	ctx := namespaces.WithNamespace(context.Background(), c.namespace)
	id := containerID(frameworkID, executor.ExecutorID)

	image, err := c.client.Pull(ctx, executor.URI, containerd.WithPullUnpack)
	if err != nil {
		c.sink.ExecutorExited(frameworkID, executor.ExecutorID, -1)
		return fmt.Errorf("failed to pull image %s: %w", executor.URI, err)
	}

	container, err := c.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(
			oci.WithImageConfig(image),
			oci.WithEnv([]string{
				"BURROW_AGENT_PID=" + c.agent.String(),
				"BURROW_FRAMEWORK_ID=" + string(frameworkID),
				"BURROW_EXECUTOR_ID=" + string(executor.ExecutorID),
				"BURROW_WORK_DIRECTORY=" + directory,
			}),
		),
	)
	if err != nil {
		c.sink.ExecutorExited(frameworkID, executor.ExecutorID, -1)
		return fmt.Errorf("failed to create container: %w", err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		container.Delete(ctx, containerd.WithSnapshotCleanup)
		c.sink.ExecutorExited(frameworkID, executor.ExecutorID, -1)
		return fmt.Errorf("failed to create task: %w", err)
	}

	exitC, err := task.Wait(ctx)
	if err != nil {
		task.Delete(ctx)
		container.Delete(ctx, containerd.WithSnapshotCleanup)
		c.sink.ExecutorExited(frameworkID, executor.ExecutorID, -1)
		return fmt.Errorf("failed to wait on task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		container.Delete(ctx, containerd.WithSnapshotCleanup)
		c.sink.ExecutorExited(frameworkID, executor.ExecutorID, -1)
		return fmt.Errorf("failed to start task: %w", err)
	}

	key := executorKey{frameworkID, executor.ExecutorID}
	c.mu.Lock()
	c.running[key] = &containerdExecutor{container: container, task: task}
	c.mu.Unlock()

	c.logger.Info().
		Str("framework_id", string(frameworkID)).
		Str("executor_id", string(executor.ExecutorID)).
		Str("container", id).
		Uint32("pid", task.Pid()).
		Msg("Launched executor container")
	c.sink.ExecutorStarted(frameworkID, executor.ExecutorID, int(task.Pid()))

	go c.await(key, exitC)
	return nil
}

func (c *ContainerdIsolator) await(key executorKey, exitC <-chan containerd.ExitStatus) {
	status := <-exitC

	c.mu.Lock()
	running, ok := c.running[key]
	delete(c.running, key)
	c.mu.Unlock()

	if ok {
		ctx := namespaces.WithNamespace(context.Background(), c.namespace)
		if _, err := running.task.Delete(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to delete exited task")
		}
		if err := running.container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to delete exited container")
		}
	}

	c.sink.ExecutorExited(key.frameworkID, key.executorID, int(status.ExitCode()))
}

// ResourcesChanged applies the cpus/mem scalars as cgroup limits on
// the running task. cpus maps to CPU shares (1 cpu = 1024 shares),
// mem is megabytes.
func (c *ContainerdIsolator) ResourcesChanged(frameworkID types.FrameworkID,
	executorID types.ExecutorID, resources resource.Resources) error {

	c.mu.Lock()
	running, ok := c.running[executorKey{frameworkID, executorID}]
	c.mu.Unlock()
	if !ok {
		// Executor not running; there is no task to update. These
		// limits are not kept: only a later notification for the
		// running task applies limits.
		return nil
	}

	limits := &specs.LinuxResources{}
	if cpus := resources.Scalar("cpus"); cpus > 0 {
		shares := uint64(cpus * 1024)
		limits.CPU = &specs.LinuxCPU{Shares: &shares}
	}
	if mem := resources.Scalar("mem"); mem > 0 {
		bytes := int64(mem) * 1024 * 1024
		limits.Memory = &specs.LinuxMemory{Limit: &bytes}
	}

	ctx := namespaces.WithNamespace(context.Background(), c.namespace)
	if err := running.task.Update(ctx, containerd.WithResources(limits)); err != nil {
		return fmt.Errorf("failed to update resources for executor %s: %w", executorID, err)
	}
	return nil
}

// KillExecutor kills the executor's task; cleanup and the exit
// callback happen on the await goroutine.
func (c *ContainerdIsolator) KillExecutor(frameworkID types.FrameworkID,
	executorID types.ExecutorID) error {

	c.mu.Lock()
	running, ok := c.running[executorKey{frameworkID, executorID}]
	c.mu.Unlock()
	if !ok {
		c.logger.Warn().
			Str("framework_id", string(frameworkID)).
			Str("executor_id", string(executorID)).
			Msg("Asked to kill unknown executor")
		return nil
	}

	ctx := namespaces.WithNamespace(context.Background(), c.namespace)
	if err := running.task.Kill(ctx, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill executor %s: %w", executorID, err)
	}
	return nil
}

// containerID derives a containerd-safe identifier from the
// framework/executor pair.
func containerID(frameworkID types.FrameworkID, executorID types.ExecutorID) string {
	id := fmt.Sprintf("fw-%s-%s", frameworkID, executorID)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, id)
}
