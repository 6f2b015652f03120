package daemon

import "whisperd/internal/protocol"

// State is the daemon lifecycle state.
type State int

const (
	StateActive State = iota
	StateIdle
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Action is a dispatchable request tag.
type Action int

const (
	ActionUnknown Action = iota
	ActionTranscribe
	ActionPing
	ActionStatus
	ActionShutdown
)

// ParseAction maps a wire tag to an Action. Unrecognized tags map to
// ActionUnknown.
func ParseAction(tag string) Action {
	switch tag {
	case protocol.ActionTranscribe:
		return ActionTranscribe
	case protocol.ActionPing:
		return ActionPing
	case protocol.ActionStatus:
		return ActionStatus
	case protocol.ActionShutdown:
		return ActionShutdown
	default:
		return ActionUnknown
	}
}

func (a Action) String() string {
	switch a {
	case ActionTranscribe:
		return protocol.ActionTranscribe
	case ActionPing:
		return protocol.ActionPing
	case ActionStatus:
		return protocol.ActionStatus
	case ActionShutdown:
		return protocol.ActionShutdown
	default:
		return "unknown"
	}
}

// Shutdown reasons recorded by the daemon itself.
const (
	ReasonIdleTimeout = "idle_timeout"
	ReasonRequest     = "request"
)
