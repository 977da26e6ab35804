package transport

import (
	"fmt"
	"strings"
)

// PID names a reachable actor endpoint, rendered as "id@host:port".
// The id half distinguishes actors sharing one address (an agent and a
// local executor, say); the address half is dialable.
type PID struct {
	ID   string `cbor:"id" json:"id"`
	Addr string `cbor:"addr" json:"addr"`
}

// ParsePID parses "id@host:port".
func ParsePID(s string) (PID, error) {
	id, addr, ok := strings.Cut(s, "@")
	if !ok || id == "" || addr == "" {
		return PID{}, fmt.Errorf("malformed pid %q (want id@host:port)", s)
	}
	return PID{ID: id, Addr: addr}, nil
}

// String renders the canonical "id@host:port" form, or "" for the
// zero PID.
func (p PID) String() string {
	if p.Empty() {
		return ""
	}
	return p.ID + "@" + p.Addr
}

// Empty reports whether the PID is unset.
func (p PID) Empty() bool {
	return p.ID == "" && p.Addr == ""
}
