package raft

import (
	"math/rand"

	"github.com/btmorr/raftkv/internal/statemachine"
)

// Timing constants (spec.md §4.5), expressed in logical ticks.
const (
	// HeartbeatInterval is how many ticks a Leader waits between
	// unsolicited heartbeats.
	HeartbeatInterval = 1

	// ElectionTimeoutMin and ElectionTimeoutMax bound the randomized
	// per-election-cycle timeout used by Follower and Candidate.
	ElectionTimeoutMin = 8
	ElectionTimeoutMax = 15
)

// Envelope holds the state shared by any role (spec.md §3 "RoleNode"). Its
// Log and State fields are exclusively owned for the envelope's lifetime; a
// role transition hands the same Envelope to the next role, so only one
// live role holds them at a time.
type Envelope struct {
	ID    string
	Peers []string
	Term  uint64
	Log   *Log
	State statemachine.StateMachine

	outbound chan<- Message
	rand     *rand.Rand
}

// NewEnvelope constructs the shared state for a node's first role. Callers
// typically wrap this in NewFollower to obtain the Follower role it starts
// in.
func NewEnvelope(id string, peers []string, log *Log, state statemachine.StateMachine, outbound chan<- Message) *Envelope {
	term, _, err := log.LoadTerm()
	if err != nil {
		term = 0
	}
	return &Envelope{
		ID:       id,
		Peers:    append([]string(nil), peers...),
		Term:     term,
		Log:      log,
		State:    state,
		outbound: outbound,
		rand:     rand.New(rand.NewSource(randSeed(id))),
	}
}

// randSeed derives a deterministic-per-id but distinct seed so tests can
// construct reproducible multi-node scenarios; production callers don't
// depend on this being anything but "distinct per node".
func randSeed(id string) int64 {
	var h int64 = 1469598103934665603 // FNV-64 offset basis with its last digit dropped, to fit int64
	for _, c := range id {
		h ^= int64(c)
		h *= 1099511628211
	}
	return h
}

// send wraps event into a Message addressed to `to` with From=self and the
// envelope's current term, and hands it to the outbound channel (spec.md
// §4.5 "send").
func (e *Envelope) send(to string, event Event) {
	e.outbound <- Message{Term: e.Term, From: e.ID, To: to, Event: event}
}

// broadcast sends event to every peer (spec.md §4.5 "broadcast").
func (e *Envelope) broadcast(event Event) {
	for _, p := range e.Peers {
		e.send(p, event)
	}
}

// respondLocal delivers event directly to a local caller (To == "").
func (e *Envelope) respondLocal(event Event) {
	e.outbound <- Message{Term: e.Term, From: e.ID, To: "", Event: event}
}

// saveTerm persists (term, votedFor) via the Log and updates the envelope's
// in-memory term (spec.md §4.5 "save_term").
func (e *Envelope) saveTerm(term uint64, votedFor *string) error {
	if err := e.Log.SaveTerm(term, votedFor); err != nil {
		return err
	}
	e.Term = term
	return nil
}

// quorum returns the smallest number of nodes (including self) whose
// agreement implies cluster agreement: floor((peers+1)/2) + 1.
func (e *Envelope) quorum() int {
	n := len(e.Peers) + 1
	return n/2 + 1
}

// electionTimeout returns a fresh, randomized election timeout in
// [ElectionTimeoutMin, ElectionTimeoutMax] (spec.md §4.5).
func (e *Envelope) electionTimeout() int {
	return ElectionTimeoutMin + e.rand.Intn(ElectionTimeoutMax-ElectionTimeoutMin+1)
}

// drainApply applies every entry the Log is ready to apply, in order,
// stopping at the first error. Used by the Follower and Candidate Tick and
// Step handlers; the Leader drains through applyAndRespond instead, so it
// can answer pending calls.
func (e *Envelope) drainApply() error {
	for {
		res, err := e.Log.Apply(e.State)
		if err != nil {
			return err
		}
		if res == nil {
			return nil
		}
	}
}
