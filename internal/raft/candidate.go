package raft

import "github.com/rs/zerolog/log"

// Candidate campaigns for leadership for a single term (spec.md §4.5.2). It
// votes for itself, solicits votes from every peer, and either wins a
// quorum, loses to a message from a newer term, or times out and starts a
// fresh campaign in the next term.
type Candidate struct {
	env *Envelope

	votesReceived map[string]bool
	electionTicks int
	timeout       int
}

// NewCandidate starts a new campaign: increments the term, votes for self,
// and broadcasts SolicitVote to every peer. A self-vote that already meets
// quorum (the zero-peer case) wins the election outright, without waiting
// for any GrantVote to arrive (spec.md §4.5.4 "majority of votes → Leader").
func NewCandidate(env *Envelope) Role {
	if err := env.saveTerm(env.Term+1, strPtr(env.ID)); err != nil {
		// saveTerm only fails on a Store I/O error; that error is not
		// returned from here, and the campaign proceeds with the in-memory
		// term bumped anyway.
		env.Term++
	}
	c := &Candidate{
		env:           env,
		votesReceived: map[string]bool{env.ID: true},
		timeout:       env.electionTimeout(),
	}
	log.Info().Str("node", env.ID).Uint64("term", env.Term).Msg("raft: node became candidate")
	if len(c.votesReceived) >= env.quorum() {
		return NewLeader(env)
	}
	lastIndex, lastTerm := env.Log.LastIndexTerm()
	env.broadcast(SolicitVote{LastIndex: lastIndex, LastTerm: lastTerm})
	return c
}

func (c *Candidate) Tick() (Role, error) {
	if err := c.env.drainApply(); err != nil {
		return c, err
	}
	c.electionTicks++
	if c.electionTicks >= c.timeout {
		return NewCandidate(c.env), nil
	}
	return c, nil
}

func (c *Candidate) Step(msg Message) (Role, error) {
	if msg.Term > c.env.Term {
		return c.stepDown(msg.Term, msg)
	}

	switch ev := msg.Event.(type) {
	case GrantVote:
		c.votesReceived[msg.From] = true
		if len(c.votesReceived) >= c.env.quorum() {
			return NewLeader(c.env), nil
		}

	case Heartbeat, ReplicateEntries:
		if msg.Term == c.env.Term {
			// A peer has already won this term's election; fall back to
			// Follower without disturbing the term or this node's own
			// vote (it voted for itself, which remains valid history).
			return NewFollower(c.env).Step(msg)
		}

	case ReadState:
		c.reject(msg, ev.CallID)
	case MutateState:
		c.reject(msg, ev.CallID)

	default:
		// SolicitVote from a rival candidate in the same term, or a stale
		// AcceptEntries/RejectEntries/ConfirmLeader from a previous role:
		// nothing to do.
	}

	if err := c.env.drainApply(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Candidate) stepDown(term uint64, msg Message) (Role, error) {
	if err := c.env.saveTerm(term, nil); err != nil {
		return c, err
	}
	f := NewFollower(c.env)
	return f.Step(msg)
}

func (c *Candidate) reject(msg Message, callID string) {
	resp := RespondError{CallID: callID, Error: "no leader known: election in progress"}
	if msg.From == "" {
		c.env.respondLocal(resp)
		return
	}
	c.env.send(msg.From, resp)
}
