// Package events defines the well-known bus channels used for
// cross-process communication between worker processes and the gateway.
package events

// Channel name for the global WebSocket broadcast stream. Worker
// processes publish progress envelopes here; the gateway fans them out
// to per-project sockets.
const BroadcastChannel = "ws.broadcast"

// Channel name prefix for per-project agent signal streams. The front
// end publishes here (via the gateway) and worker processes subscribe,
// e.g. to receive plan approvals.
const agentSignalPrefix = "signals.project."

// Channel name prefix for turn submission in split deployments, where
// the gateway process forwards user messages to worker processes.
const TurnRequestChannel = "turn.request"

// AgentSignalChannel returns the per-project agent signal channel name.
func AgentSignalChannel(projectID string) string {
	return agentSignalPrefix + projectID
}
