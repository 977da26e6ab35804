package agent

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/burrowlabs/burrow/pkg/metrics"
	"github.com/burrowlabs/burrow/pkg/types"
	"github.com/burrowlabs/burrow/pkg/version"
)

// snapshotTimeout bounds how long an HTTP handler waits for the event
// loop to produce a snapshot.
const snapshotTimeout = 5 * time.Second

// infoSnapshot is the /slave/info.json payload.
type infoSnapshot struct {
	BuiltDate string  `json:"built_date"`
	BuildUser string  `json:"build_user"`
	StartTime float64 `json:"start_time"`
	PID       string  `json:"pid"`
}

// frameworkSnapshot is one element of /slave/frameworks.json.
type frameworkSnapshot struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	User string `json:"user"`
}

// taskSnapshot is one element of /slave/tasks.json.
type taskSnapshot struct {
	TaskID      string  `json:"task_id"`
	FrameworkID string  `json:"framework_id"`
	SlaveID     string  `json:"slave_id"`
	Name        string  `json:"name"`
	State       string  `json:"state"`
	CPUs        float64 `json:"cpus"`
	Mem         float64 `json:"mem"`
}

// statsSnapshot is the /slave/stats.json payload.
type statsSnapshot struct {
	Uptime                   float64 `json:"uptime"`
	TotalFrameworks          int     `json:"total_frameworks"`
	StartedTasks             uint64  `json:"started_tasks"`
	FinishedTasks            uint64  `json:"finished_tasks"`
	KilledTasks              uint64  `json:"killed_tasks"`
	FailedTasks              uint64  `json:"failed_tasks"`
	LostTasks                uint64  `json:"lost_tasks"`
	ValidStatusUpdates       uint64  `json:"valid_status_updates"`
	InvalidStatusUpdates     uint64  `json:"invalid_status_updates"`
	ValidFrameworkMessages   uint64  `json:"valid_framework_messages"`
	InvalidFrameworkMessages uint64  `json:"invalid_framework_messages"`
}

// snapshot is an immutable copy of the introspectable state, built
// inside the event loop.
type snapshot struct {
	info       infoSnapshot
	frameworks []frameworkSnapshot
	tasks      []taskSnapshot
	stats      statsSnapshot
}

// Router returns the read-only introspection surface.
func (a *Agent) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/slave/info.json", a.handleInfoJSON).Methods("GET")
	r.HandleFunc("/slave/frameworks.json", a.handleFrameworksJSON).Methods("GET")
	r.HandleFunc("/slave/tasks.json", a.handleTasksJSON).Methods("GET")
	r.HandleFunc("/slave/stats.json", a.handleStatsJSON).Methods("GET")
	r.HandleFunc("/slave/vars", a.handleVars).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	return r
}

// takeSnapshot serializes snapshot construction through the event
// loop; handlers never touch live state.
func (a *Agent) takeSnapshot() (snapshot, bool) {
	reply := make(chan snapshot, 1)
	a.post(func() { reply <- a.buildSnapshot() })

	select {
	case snap := <-reply:
		return snap, true
	case <-a.done:
		return snapshot{}, false
	case <-time.After(snapshotTimeout):
		return snapshot{}, false
	}
}

func (a *Agent) buildSnapshot() snapshot {
	snap := snapshot{
		info: infoSnapshot{
			BuiltDate: version.BuildTime,
			BuildUser: version.BuildUser,
			StartTime: float64(a.startTime.Unix()),
			PID:       a.messenger.PID().String(),
		},
		frameworks: []frameworkSnapshot{},
		tasks:      []taskSnapshot{},
		stats: statsSnapshot{
			Uptime:                   time.Since(a.startTime).Seconds(),
			TotalFrameworks:          len(a.frameworks),
			StartedTasks:             a.stats.tasks[types.TaskStarting],
			FinishedTasks:            a.stats.tasks[types.TaskFinished],
			KilledTasks:              a.stats.tasks[types.TaskKilled],
			FailedTasks:              a.stats.tasks[types.TaskFailed],
			LostTasks:                a.stats.tasks[types.TaskLost],
			ValidStatusUpdates:       a.stats.validStatusUpdates,
			InvalidStatusUpdates:     a.stats.invalidStatusUpdates,
			ValidFrameworkMessages:   a.stats.validFrameworkMessages,
			InvalidFrameworkMessages: a.stats.invalidFrameworkMessages,
		},
	}

	for _, f := range a.frameworks {
		snap.frameworks = append(snap.frameworks, frameworkSnapshot{
			ID:   string(f.id),
			Name: f.info.Name,
			User: f.info.User,
		})
		for _, e := range f.executors {
			for _, t := range e.launchedTasks {
				snap.tasks = append(snap.tasks, taskSnapshot{
					TaskID:      string(t.TaskID),
					FrameworkID: string(t.FrameworkID),
					SlaveID:     string(t.SlaveID),
					Name:        t.Name,
					State:       string(t.State),
					CPUs:        t.Resources.Scalar("cpus"),
					Mem:         t.Resources.Scalar("mem"),
				})
			}
		}
	}

	sort.Slice(snap.frameworks, func(i, j int) bool {
		return snap.frameworks[i].ID < snap.frameworks[j].ID
	})
	sort.Slice(snap.tasks, func(i, j int) bool {
		return snap.tasks[i].TaskID < snap.tasks[j].TaskID
	})
	return snap
}

func (a *Agent) handleInfoJSON(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.takeSnapshot()
	if !ok {
		http.Error(w, "agent unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, snap.info)
}

func (a *Agent) handleFrameworksJSON(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.takeSnapshot()
	if !ok {
		http.Error(w, "agent unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, snap.frameworks)
}

func (a *Agent) handleTasksJSON(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.takeSnapshot()
	if !ok {
		http.Error(w, "agent unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, snap.tasks)
}

func (a *Agent) handleStatsJSON(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.takeSnapshot()
	if !ok {
		http.Error(w, "agent unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, snap.stats)
}

func (a *Agent) handleVars(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.takeSnapshot()
	if !ok {
		http.Error(w, "agent unavailable", http.StatusServiceUnavailable)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "build_date %s\n", version.BuildTime)
	fmt.Fprintf(&b, "build_user %s\n", version.BuildUser)
	fmt.Fprintf(&b, "build_version %s\n", version.Version)

	for _, kv := range a.conf.Map() {
		fmt.Fprintf(&b, "%s %s\n", kv[0], kv[1])
	}

	fmt.Fprintf(&b, "uptime %f\n", snap.stats.Uptime)
	fmt.Fprintf(&b, "total_frameworks %d\n", snap.stats.TotalFrameworks)
	fmt.Fprintf(&b, "started_tasks %d\n", snap.stats.StartedTasks)
	fmt.Fprintf(&b, "finished_tasks %d\n", snap.stats.FinishedTasks)
	fmt.Fprintf(&b, "killed_tasks %d\n", snap.stats.KilledTasks)
	fmt.Fprintf(&b, "failed_tasks %d\n", snap.stats.FailedTasks)
	fmt.Fprintf(&b, "lost_tasks %d\n", snap.stats.LostTasks)
	fmt.Fprintf(&b, "valid_status_updates %d\n", snap.stats.ValidStatusUpdates)
	fmt.Fprintf(&b, "invalid_status_updates %d\n", snap.stats.InvalidStatusUpdates)
	fmt.Fprintf(&b, "valid_framework_messages %d\n", snap.stats.ValidFrameworkMessages)
	fmt.Fprintf(&b, "invalid_framework_messages %d\n", snap.stats.InvalidFrameworkMessages)

	body := b.String()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	fmt.Fprint(w, body)
}

func writeJSON(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Write(body)
}
