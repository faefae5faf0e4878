// Package agent implements the autonomous agent core: a handler registry
// keyed by message type, a behavior registry of periodically scheduled
// functions, and the Agent that runs a message loop and a behavior loop
// concurrently against one state blob. Pair wires two agents' inboxes to
// each other.
package agent
