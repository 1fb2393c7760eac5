// Package transport carries a live voice call between a page and the
// provider's realtime endpoint.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrNotStarted is returned by Stop when no call is running
	ErrNotStarted = errors.New("transport: no call in progress")
	// ErrAlreadyStarted is returned by Start while a call is running
	ErrAlreadyStarted = errors.New("transport: call already in progress")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("transport: closed")
)

// EventKind identifies a lifecycle notification from the provider
type EventKind string

const (
	EventStarted EventKind = "started"
	EventEnded   EventKind = "ended"
	EventError   EventKind = "error"
)

// Event is a lifecycle notification. CallID names the call that produced
// it, so listeners never have to guess which call an event belongs to.
type Event struct {
	Kind    EventKind
	CallID  string
	Code    int    // ended only
	Reason  string // ended only
	Message string // error only
}

// StartOptions are the parameters of one call
type StartOptions struct {
	AccessToken  string
	CallID       string
	SampleRate   int
	EnableUpdate bool
}

// Transport is a single page's connection to the provider
type Transport interface {
	// Start opens the call. It returns once the connection is established;
	// EventStarted follows when the provider confirms the conversation.
	Start(ctx context.Context, opts StartOptions) error

	// Stop hangs up the running call and waits for the connection to close
	Stop(ctx context.Context) error

	// Subscribe registers a listener and returns its unsubscribe function
	Subscribe(fn func(Event)) func()

	// Close tears down any running call and drops all listeners
	Close() error
}
