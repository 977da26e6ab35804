// Package detector observes master elections and reports the current
// master endpoint to the agent. The agent never campaigns: it only
// watches whatever election mechanism the deployment uses.
package detector

import (
	"github.com/burrowlabs/burrow/pkg/transport"
)

// Listener receives master transitions. Calls arrive from detector
// goroutines; implementations enqueue into their own serialization.
type Listener interface {
	NewMasterDetected(master transport.PID)
	NoMasterDetected()
}

// Detector reports master transitions to a listener until closed.
type Detector interface {
	Detect(l Listener) error
	Close()
}

// Static is a detector with a fixed master endpoint, used for
// single-master deployments and tests.
type Static struct {
	Master transport.PID
}

// NewStatic returns a detector that reports pid as master immediately.
func NewStatic(pid transport.PID) *Static {
	return &Static{Master: pid}
}

// Detect reports the configured master once.
func (s *Static) Detect(l Listener) error {
	if s.Master.Empty() {
		l.NoMasterDetected()
		return nil
	}
	l.NewMasterDetected(s.Master)
	return nil
}

// Close is a no-op.
func (s *Static) Close() {}
