package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a provider failure for health accounting.
type ErrorKind int

const (
	// KindTimeout is a call that exceeded its hard deadline.
	KindTimeout ErrorKind = iota
	// KindNetwork is a connectivity failure (DNS, refused, reset).
	KindNetwork
	// KindRemote is a non-2xx reply from the provider.
	KindRemote
	// KindParse is a reply that could not be turned into a result. An
	// unusable reply is equivalent to no reply, so it counts as a
	// provider failure.
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindRemote:
		return "remote"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err, defaulting to KindRemote for
// unclassified errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindRemote
}

// classifyTransportError maps a transport-level error onto the taxonomy.
func classifyTransportError(provider string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Provider: provider, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Provider: provider, Err: err}
	}
	return &Error{Kind: KindNetwork, Provider: provider, Err: err}
}
