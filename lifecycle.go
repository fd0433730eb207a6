package shellcache

import "errors"

// State is a worker lifecycle state.
type State int

const (
	StateUninstalled State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

var (
	// ErrInstallFailed wraps every install-phase failure.
	ErrInstallFailed = errors.New("install failed")
	// ErrInvalidState is returned when a lifecycle step runs out of order.
	ErrInvalidState = errors.New("invalid lifecycle state")
	// ErrNotInstalled is returned by operations that need a cache generation.
	ErrNotInstalled = errors.New("worker not installed")
	// ErrNoActiveWorker is returned when no worker controls the registration.
	ErrNoActiveWorker = errors.New("no active worker")
	// ErrUnknownMessage is returned for unsupported page message types.
	ErrUnknownMessage = errors.New("unknown message type")
	// ErrInvalidMessage is returned for malformed page messages.
	ErrInvalidMessage = errors.New("invalid message")
)
