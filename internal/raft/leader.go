package raft

import "github.com/rs/zerolog/log"

// pendingRead tracks a client ReadState call awaiting read-index
// confirmation: the read may only be answered once a quorum of peers has
// confirmed they are still caught up to commitAt (spec.md §4.5.3,
// "linearizable reads").
type pendingRead struct {
	callID     string
	command    []byte
	originator *string
	commitAt   uint64
	acks       map[string]bool
}

// Leader drives log replication and serves client calls (spec.md §4.5.3).
// It owns, per peer, the next index to try replicating and the highest
// index known to be durably replicated there.
type Leader struct {
	env *Envelope

	nextIndex  map[string]uint64
	matchIndex map[string]uint64

	heartbeatTicks int

	// pendingCalls maps a call_id to its originator (nil == local caller)
	// for calls not yet resolved. pendingByIndex maps a log index carrying
	// a MutateState command to the call_id waiting on it.
	pendingCalls   map[string]*string
	pendingByIndex map[uint64]string
	pendingReads   map[string]*pendingRead
}

// NewLeader ascends env to leadership: it seeds per-peer replication
// progress, appends a no-op entry for the new term (so earlier terms'
// entries can be committed transitively once it commits, spec.md §4.2), and
// immediately replicates to every peer.
func NewLeader(env *Envelope) *Leader {
	l := &Leader{
		env:            env,
		nextIndex:      make(map[string]uint64),
		matchIndex:     make(map[string]uint64),
		pendingCalls:   make(map[string]*string),
		pendingByIndex: make(map[uint64]string),
		pendingReads:   make(map[string]*pendingRead),
	}
	lastIndex, _ := env.Log.LastIndexTerm()
	for _, p := range env.Peers {
		l.nextIndex[p] = lastIndex + 1
		l.matchIndex[p] = 0
	}
	if _, err := env.Log.Append(Entry{Term: env.Term}); err != nil {
		log.Error().Err(err).Str("node", env.ID).Msg("raft: failed to append ascension no-op")
	} else {
		// A lone node (no peers) forms a quorum of one and commits its own
		// no-op immediately; a node with peers needs their AcceptEntries
		// acks instead, gathered below.
		if err := l.advanceCommit(); err != nil {
			log.Error().Err(err).Str("node", env.ID).Msg("raft: failed to advance commit on ascension")
		}
		for _, p := range env.Peers {
			l.replicateTo(p)
		}
	}
	log.Info().Str("node", env.ID).Uint64("term", env.Term).Msg("raft: node became leader")
	return l
}

func (l *Leader) Tick() (Role, error) {
	if err := l.applyAndRespond(); err != nil {
		return l, err
	}
	l.heartbeatTicks++
	if l.heartbeatTicks >= HeartbeatInterval {
		l.heartbeatTicks = 0
		ci, ct := l.env.Log.CommitIndexTerm()
		l.env.broadcast(Heartbeat{CommitIndex: ci, CommitTerm: ct})
		lastIndex, _ := l.env.Log.LastIndexTerm()
		for _, p := range l.env.Peers {
			if l.nextIndex[p] <= lastIndex {
				l.replicateTo(p)
			}
		}
	}
	return l, nil
}

func (l *Leader) Step(msg Message) (Role, error) {
	if msg.Term > l.env.Term {
		return l.stepDown(msg.Term, msg)
	}

	switch ev := msg.Event.(type) {
	case AcceptEntries:
		if ev.LastIndex > l.matchIndex[msg.From] {
			l.matchIndex[msg.From] = ev.LastIndex
		}
		l.nextIndex[msg.From] = ev.LastIndex + 1
		if err := l.advanceCommit(); err != nil {
			return l, err
		}
		lastIndex, _ := l.env.Log.LastIndexTerm()
		if l.nextIndex[msg.From] <= lastIndex {
			l.replicateTo(msg.From)
		}

	case RejectEntries:
		if l.nextIndex[msg.From] > 1 {
			l.nextIndex[msg.From]--
		}
		l.replicateTo(msg.From)

	case ConfirmLeader:
		if !ev.HasCommitted {
			l.replicateTo(msg.From)
		} else {
			l.handleReadAck(msg.From, ev)
		}

	case ReadState:
		l.beginRead(msg, ev)
	case MutateState:
		if err := l.beginMutate(msg, ev); err != nil {
			return l, err
		}

	default:
		// SolicitVote from a peer in this or an older term never wins
		// against a sitting leader; GrantVote/RespondState/RespondError
		// addressed to a leader are stale replies. Nothing to do.
	}

	if err := l.applyAndRespond(); err != nil {
		return l, err
	}
	return l, nil
}

func (l *Leader) stepDown(term uint64, msg Message) (Role, error) {
	if err := l.env.saveTerm(term, nil); err != nil {
		return l, err
	}
	for callID, originator := range l.pendingCalls {
		resp := RespondError{CallID: callID, Error: "leadership lost"}
		if originator == nil {
			l.env.respondLocal(resp)
		} else {
			l.env.send(*originator, resp)
		}
	}
	f := NewFollower(l.env)
	return f.Step(msg)
}

// replicateTo sends every entry from nextIndex[peer] through the end of the
// log, anchored at the entry immediately preceding it.
func (l *Leader) replicateTo(peer string) {
	base := l.nextIndex[peer] - 1
	var baseTerm uint64
	if base > 0 {
		entry, ok, err := l.env.Log.Get(base)
		if err != nil || !ok {
			return
		}
		baseTerm = entry.Term
	}
	entries, err := l.env.Log.Range(base + 1)
	if err != nil {
		return
	}
	l.env.send(peer, ReplicateEntries{BaseIndex: base, BaseTerm: baseTerm, Entries: entries})
}

// advanceCommit recomputes the highest index replicated to a quorum
// (including self) and commits it, provided that entry was appended during
// the current term (spec.md §4.2, "leaders only commit their own term").
func (l *Leader) advanceCommit() error {
	lastIndex, _ := l.env.Log.LastIndexTerm()
	counts := make([]uint64, 0, len(l.env.Peers)+1)
	counts = append(counts, lastIndex)
	for _, idx := range l.matchIndex {
		counts = append(counts, idx)
	}
	for i := 0; i < len(counts); i++ {
		for j := i + 1; j < len(counts); j++ {
			if counts[j] > counts[i] {
				counts[i], counts[j] = counts[j], counts[i]
			}
		}
	}
	agreed := counts[l.env.quorum()-1]
	if agreed == 0 {
		return nil
	}
	entry, ok, err := l.env.Log.Get(agreed)
	if err != nil {
		return err
	}
	if !ok || entry.Term != l.env.Term {
		return nil
	}
	_, err = l.env.Log.Commit(agreed)
	return err
}

// applyAndRespond drains every ready-to-apply entry and, for the ones that
// were originated by a pending client call, routes the result back to its
// caller (local or proxied from a follower).
func (l *Leader) applyAndRespond() error {
	for {
		res, err := l.env.Log.Apply(l.env.State)
		if err != nil {
			return err
		}
		if res == nil {
			return nil
		}
		callID, ok := l.pendingByIndex[res.Index]
		if !ok {
			continue
		}
		delete(l.pendingByIndex, res.Index)
		originator, ok := l.pendingCalls[callID]
		if !ok {
			continue
		}
		delete(l.pendingCalls, callID)

		var resp Event
		if res.MutateErr != nil {
			resp = RespondError{CallID: callID, Error: res.MutateErr.Error()}
		} else {
			resp = RespondState{CallID: callID, Response: res.Output}
		}
		if originator == nil {
			l.env.respondLocal(resp)
		} else {
			l.env.send(*originator, resp)
		}
	}
}

func (l *Leader) beginMutate(msg Message, ev MutateState) error {
	idx, err := l.env.Log.Append(Entry{Term: l.env.Term, Command: ev.Command})
	if err != nil {
		return err
	}
	l.pendingCalls[ev.CallID] = originatorOf(msg)
	l.pendingByIndex[idx] = ev.CallID
	if err := l.advanceCommit(); err != nil {
		return err
	}
	for _, p := range l.env.Peers {
		l.replicateTo(p)
	}
	return nil
}

// beginRead registers a linearizable read: it is only answered once a
// quorum of peers confirms (via ConfirmLeader) they are caught up to at
// least the commit index observed when the read arrived.
func (l *Leader) beginRead(msg Message, ev ReadState) {
	ci, ct := l.env.Log.CommitIndexTerm()
	if len(l.env.Peers) == 0 {
		l.answerRead(ev, originatorOf(msg))
		return
	}
	l.pendingReads[ev.CallID] = &pendingRead{
		callID:     ev.CallID,
		command:    ev.Command,
		originator: originatorOf(msg),
		commitAt:   ci,
		acks:       map[string]bool{l.env.ID: true},
	}
	l.env.broadcast(Heartbeat{CommitIndex: ci, CommitTerm: ct})
}

func (l *Leader) handleReadAck(peer string, ev ConfirmLeader) {
	for callID, pr := range l.pendingReads {
		if ev.CommitIndex < pr.commitAt {
			continue
		}
		pr.acks[peer] = true
		if len(pr.acks) < l.env.quorum() {
			continue
		}
		delete(l.pendingReads, callID)
		l.answerRead(ReadState{CallID: pr.callID, Command: pr.command}, pr.originator)
	}
}

func (l *Leader) answerRead(ev ReadState, originator *string) {
	output, err := l.env.State.Read(ev.Command)
	var resp Event
	if err != nil {
		resp = RespondError{CallID: ev.CallID, Error: err.Error()}
	} else {
		resp = RespondState{CallID: ev.CallID, Response: output}
	}
	if originator == nil {
		l.env.respondLocal(resp)
		return
	}
	l.env.send(*originator, resp)
}
