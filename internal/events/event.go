// Package events carries core-availability changes from outside the
// process to the scheduler's listener.
//
// The scheduler only ever sees Event values delivered through a Sink.
// Transports (unix socket, MQTT) sit in front of it and translate their
// wire format into events.
package events

import (
	"context"
	"errors"
	"fmt"
)

// Errors returned by transports.
var (
	ErrUnknownOp      = errors.New("malms: unknown event op")
	ErrUnknownCommand = errors.New("malms: unknown core command")
	ErrFrameTooLarge  = errors.New("malms: event frame too large")
)

// Op is the wire opcode of an availability change. Values mirror the
// BLOCK_CORE / UNBLOCK_CORE signal pair.
type Op uint8

const (
	// OpBlockCore marks a core unavailable.
	OpBlockCore Op = 1
	// OpUnblockCore marks a core available.
	OpUnblockCore Op = 2
)

// String returns the op name.
func (o Op) String() string {
	switch o {
	case OpBlockCore:
		return "block_core"
	case OpUnblockCore:
		return "unblock_core"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Event is a single CoreAvailabilityChanged notification.
type Event struct {
	Core      int
	Available bool
}

// Block returns the event marking core unavailable.
func Block(core int) Event {
	return Event{Core: core, Available: false}
}

// Unblock returns the event marking core available.
func Unblock(core int) Event {
	return Event{Core: core, Available: true}
}

// Op returns the wire opcode for e.
func (e Event) Op() Op {
	if e.Available {
		return OpUnblockCore
	}
	return OpBlockCore
}

// String implements fmt.Stringer.
func (e Event) String() string {
	return fmt.Sprintf("%s(%d)", e.Op(), e.Core)
}

// FromOp builds an event from a wire opcode.
func FromOp(op Op, core int) (Event, error) {
	switch op {
	case OpBlockCore:
		return Block(core), nil
	case OpUnblockCore:
		return Unblock(core), nil
	default:
		return Event{}, fmt.Errorf("%w: %d", ErrUnknownOp, op)
	}
}

// Sink receives events. The scheduler implements it.
type Sink interface {
	Notify(Event) error
}

// Source produces events into a sink until ctx is cancelled.
type Source interface {
	// Name identifies the transport in logs.
	Name() string

	// Run blocks until ctx is done or the transport fails.
	// Returns nil on cancellation.
	Run(ctx context.Context, sink Sink) error
}

// Sender delivers events to a remote scheduler.
type Sender interface {
	Send(events ...Event) error
	Close() error
}
