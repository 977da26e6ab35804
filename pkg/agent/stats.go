package agent

import (
	"github.com/burrowlabs/burrow/pkg/metrics"
	"github.com/burrowlabs/burrow/pkg/types"
)

// stats are the agent's monotonic counters. Gauges over the object
// graph are recomputed after graph mutations (see syncGauges).
type stats struct {
	tasks                    map[types.TaskState]uint64
	validStatusUpdates       uint64
	invalidStatusUpdates     uint64
	validFrameworkMessages   uint64
	invalidFrameworkMessages uint64
}

func newStats() stats {
	tasks := make(map[types.TaskState]uint64, len(types.TaskStates))
	for _, state := range types.TaskStates {
		tasks[state] = 0
	}
	return stats{tasks: tasks}
}

func (s *stats) countTask(state types.TaskState) {
	s.tasks[state]++
	metrics.TasksTotal.WithLabelValues(string(state)).Inc()
}

func (s *stats) countStatusUpdate(valid bool) {
	if valid {
		s.validStatusUpdates++
		metrics.StatusUpdatesTotal.WithLabelValues(metrics.Valid).Inc()
	} else {
		s.invalidStatusUpdates++
		metrics.StatusUpdatesTotal.WithLabelValues(metrics.Invalid).Inc()
	}
}

func (s *stats) countFrameworkMessage(valid bool) {
	if valid {
		s.validFrameworkMessages++
		metrics.FrameworkMessagesTotal.WithLabelValues(metrics.Valid).Inc()
	} else {
		s.invalidFrameworkMessages++
		metrics.FrameworkMessagesTotal.WithLabelValues(metrics.Invalid).Inc()
	}
}

// syncGauges recomputes the graph-derived gauges after a mutation.
func (a *Agent) syncGauges() {
	var executors, queued, pending int
	for _, f := range a.frameworks {
		executors += len(f.executors)
		pending += len(f.updates)
		for _, e := range f.executors {
			queued += len(e.queuedTasks)
		}
	}
	metrics.Frameworks.Set(float64(len(a.frameworks)))
	metrics.Executors.Set(float64(executors))
	metrics.QueuedTasks.Set(float64(queued))
	metrics.PendingStatusUpdates.Set(float64(pending))
}
