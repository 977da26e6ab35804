/*
Package agent implements the burrow node agent: the per-machine
process of a two-level cluster scheduler that hosts tenant executors
and multiplexes tasks onto them.

# Architecture

The agent is a single actor. One goroutine drains a mailbox of events
— typed messages from the master, framework schedulers, and
executors; master-detector callbacks; isolation-layer callbacks;
retry timers; and introspection snapshot requests — and runs each
handler to completion before the next. All mutable state (the
framework → executor → task graph, the resource ledger, the counters)
is owned by that goroutine, so handlers need no locks.

	master ─┐                          ┌─ isolation layer
	scheduler ─┼──▶ mailbox ──▶ handlers ─┤   (own actor)
	executor ─┘        ▲                  └─ outbound messages
	timers ────────────┘

Ownership is strictly hierarchical: a framework owns its executors,
an executor owns its tasks. Destroying a framework destroys its
executors and their tasks. Cross-references are by id only.

# Task lifecycle

A RunTask for an unknown framework creates the framework record. The
task resolves to an executor (its own nomination, or the framework's
default). If that executor has not registered yet the task is queued;
at registration the queue drains in arrival order, each task moving
to the launched set in state TASK_STARTING with its resources folded
into the executor's ledger. Every ledger mutation is followed by a
resourcesChanged notification to the isolation layer.

# Status updates

Executors report task state transitions as status updates. The agent
applies the state, removes terminal tasks from the ledger, forwards
the update to the master with the reliable flag set, and keeps it in
the framework's pending set until the master acknowledges. A timer
re-sends unacknowledged updates every retry interval. Updates the
agent fabricates itself (kills that cannot be delivered) are sent
non-reliable and never retried.

# Master failover

The master is observed through a detector. On a new master the agent
registers (no slave id yet) or re-registers with its id and the full
set of launched tasks. Master loss is tolerated: executors keep
running and updates keep accumulating for the next master.
*/
package agent
