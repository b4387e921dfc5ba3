// Package raft implements the replicated log and role state machine
// described by the cluster's consensus protocol: Follower, Candidate, and
// Leader roles driven by a Transport and a logical clock (spec.md §3-4).
package raft

import (
	"context"
	"fmt"
	"time"

	"github.com/btmorr/raftkv/internal/statemachine"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// call is a pending local request awaiting a response on its own channel.
type call struct {
	id   string
	done chan Message
}

// Driver owns the current Role and multiplexes its three inputs: the tick
// clock, inbound Transport messages, and local client calls (spec.md §4.6).
// It is the only place that actually sends on a Transport or receives from
// one; the role state machine only ever sees Messages.
type Driver struct {
	envelope  *Envelope
	transport Transport

	tickInterval time.Duration

	outbound chan Message
	local    chan localCall

	calls map[string]*call

	stop chan struct{}
	done chan struct{}
}

type localCall struct {
	event Event
	reply chan Message
}

// NewDriver wires a Role's shared Envelope to a concrete Transport. It does
// not start the node; the caller runs Run in its own goroutine.
// tickInterval is the wall-clock duration of one logical tick.
func NewDriver(id string, peers []string, raftLog *Log, state statemachine.StateMachine, transport Transport, tickInterval time.Duration) *Driver {
	outbound := make(chan Message, 64)
	env := NewEnvelope(id, peers, raftLog, state, outbound)
	d := &Driver{
		envelope:     env,
		transport:    transport,
		tickInterval: tickInterval,
		outbound:     outbound,
		local:        make(chan localCall),
		calls:        make(map[string]*call),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	return d
}

// Run drives the node until ctx is done or Close is called. It must be
// started in its own goroutine.
func (d *Driver) Run(ctx context.Context) {
	defer close(d.done)

	var role Role = NewFollower(d.envelope)
	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return

		case <-ticker.C:
			next, err := role.Tick()
			if err != nil {
				log.Error().Err(err).Str("node", d.envelope.ID).Msg("raft tick failed")
				continue
			}
			role = next

		case msg, ok := <-d.transport.Receiver():
			if !ok {
				return
			}
			msg = Normalize(msg, d.envelope.ID, d.envelope.Term)
			if err := Validate(msg, d.envelope.ID, d.envelope.Term); err != nil {
				log.Debug().Err(err).Str("node", d.envelope.ID).Msg("raft: dropping invalid message")
				continue
			}
			next, err := role.Step(msg)
			if err != nil {
				log.Error().Err(err).Str("node", d.envelope.ID).Msg("raft step failed")
				continue
			}
			role = next

		case lc := <-d.local:
			id := uuid.New().String()
			event := attachCallID(lc.event, id)
			d.calls[id] = &call{id: id, done: lc.reply}
			next, err := role.Step(Message{Term: d.envelope.Term, From: "", To: d.envelope.ID, Event: event})
			if err != nil {
				log.Error().Err(err).Str("node", d.envelope.ID).Msg("raft local step failed")
				d.finishCall(id, Message{Event: RespondError{CallID: id, Error: err.Error()}})
				continue
			}
			role = next

		case out := <-d.outbound:
			d.routeOutbound(out)
		}
	}
}

// routeOutbound delivers a Message the active role produced: locally, if it
// resolves a pending call, or over the Transport otherwise.
func (d *Driver) routeOutbound(msg Message) {
	if msg.To == "" {
		if callID, ok := CallID(msg.Event); ok {
			d.finishCall(callID, msg)
		}
		return
	}
	if err := d.transport.Send(msg); err != nil {
		log.Debug().Err(err).Str("to", msg.To).Msg("raft: send failed")
	}
}

func (d *Driver) finishCall(callID string, msg Message) {
	c, ok := d.calls[callID]
	if !ok {
		return
	}
	delete(d.calls, callID)
	c.done <- msg
}

func attachCallID(event Event, id string) Event {
	switch ev := event.(type) {
	case ReadState:
		ev.CallID = id
		return ev
	case MutateState:
		ev.CallID = id
		return ev
	default:
		return event
	}
}

// Mutate submits command to the cluster and blocks until it is committed
// and applied, or ctx is done.
func (d *Driver) Mutate(ctx context.Context, command []byte) ([]byte, error) {
	return d.call(ctx, MutateState{Command: command})
}

// Read submits a linearizable read of command and blocks for the result.
func (d *Driver) Read(ctx context.Context, command []byte) ([]byte, error) {
	return d.call(ctx, ReadState{Command: command})
}

func (d *Driver) call(ctx context.Context, event Event) ([]byte, error) {
	reply := make(chan Message, 1)
	select {
	case d.local <- localCall{event: event, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.stop:
		return nil, fmt.Errorf("raft: driver stopped")
	}

	select {
	case msg := <-reply:
		switch ev := msg.Event.(type) {
		case RespondState:
			return ev.Response, nil
		case RespondError:
			return nil, fmt.Errorf("raft: %s", ev.Error)
		default:
			return nil, fmt.Errorf("raft: unexpected response event %T", msg.Event)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Join blocks until Run has exited, whether because ctx was cancelled or
// Close was called.
func (d *Driver) Join() {
	<-d.done
}

// Close stops Run and releases its resources.
func (d *Driver) Close() {
	close(d.stop)
	<-d.done
}
