package raft

// Follower is the role every node starts in and the role every node falls
// back to whenever it sees a message from a newer term (spec.md §4.5.1).
type Follower struct {
	env *Envelope

	leader      *string
	votedFor    *string
	leaderTicks int
	timeout     int
	proxyCalls  map[string]*string // call_id -> originator (nil == local caller)
}

// NewFollower constructs the Follower role for a freshly built Envelope, or
// for a node stepping down from Candidate/Leader.
func NewFollower(env *Envelope) *Follower {
	_, votedFor, _ := env.Log.LoadTerm()
	return &Follower{
		env:        env,
		votedFor:   votedFor,
		timeout:    env.electionTimeout(),
		proxyCalls: make(map[string]*string),
	}
}

func (f *Follower) Tick() (Role, error) {
	if err := f.env.drainApply(); err != nil {
		return f, err
	}
	f.leaderTicks++
	if f.leaderTicks >= f.timeout {
		return NewCandidate(f.env), nil
	}
	return f, nil
}

func (f *Follower) Step(msg Message) (Role, error) {
	if msg.From != "" && msg.Term > f.env.Term {
		if err := f.env.saveTerm(msg.Term, nil); err != nil {
			return f, err
		}
		f.votedFor = nil
		f.observeLeader(msg.From)
	} else if f.leader == nil && msg.From != "" {
		// Leader discovery: adopt the sender as leader while none is known
		// yet, without disturbing any vote already cast this term
		// (spec.md §4.5.1 step 2).
		f.leader = strPtr(msg.From)
	}
	if f.leader != nil && msg.From == *f.leader {
		f.leaderTicks = 0
	}

	switch ev := msg.Event.(type) {
	case Heartbeat:
		if f.leader == nil || msg.From != *f.leader {
			// Not from the leader this node currently recognizes; ignore
			// rather than risk confirming commit progress on its behalf.
			break
		}
		matched, err := f.env.Log.Has(ev.CommitIndex, ev.CommitTerm)
		if err != nil {
			return f, err
		}
		if matched {
			if _, err := f.env.Log.Commit(ev.CommitIndex); err != nil {
				return f, err
			}
		}
		f.env.send(msg.From, ConfirmLeader{CommitIndex: ev.CommitIndex, HasCommitted: matched})

	case SolicitVote:
		grant, err := f.considerVote(msg.From, ev)
		if err != nil {
			return f, err
		}
		if grant {
			f.env.send(msg.From, GrantVote{})
		}

	case ReplicateEntries:
		last, err := f.env.Log.Splice(ev.BaseIndex, ev.BaseTerm, ev.Entries)
		if err != nil {
			if err == ErrBaseNotFound {
				f.env.send(msg.From, RejectEntries{})
				return f, nil
			}
			return f, err
		}
		f.env.send(msg.From, AcceptEntries{LastIndex: last})

	case ReadState:
		f.proxy(msg, ev.CallID)
	case MutateState:
		f.proxy(msg, ev.CallID)

	case RespondState:
		f.routeProxied(ev.CallID, RespondState{CallID: ev.CallID, Response: ev.Response})
	case RespondError:
		f.routeProxied(ev.CallID, RespondError{CallID: ev.CallID, Error: ev.Error})

	default:
		// GrantVote/AcceptEntries/RejectEntries/ConfirmLeader addressed to a
		// follower are stale replies from a role this node no longer holds;
		// ignore them.
	}

	if err := f.env.drainApply(); err != nil {
		return f, err
	}
	return f, nil
}

func (f *Follower) observeLeader(id string) {
	f.leader = strPtr(id)
	f.leaderTicks = 0
	f.timeout = f.env.electionTimeout()
}

// considerVote implements the Raft vote rule: grant at most one vote per
// term, and only to a candidate whose log is at least as up to date.
func (f *Follower) considerVote(candidate string, req SolicitVote) (bool, error) {
	if f.votedFor != nil && *f.votedFor != candidate {
		return false, nil
	}
	lastIndex, lastTerm := f.env.Log.LastIndexTerm()
	upToDate := req.LastTerm > lastTerm || (req.LastTerm == lastTerm && req.LastIndex >= lastIndex)
	if !upToDate {
		return false, nil
	}
	if err := f.env.saveTerm(f.env.Term, strPtr(candidate)); err != nil {
		return false, err
	}
	f.votedFor = strPtr(candidate)
	// Granting a vote is evidence of an active candidate; reset the
	// election clock so this node doesn't also time out and compete.
	f.leaderTicks = 0
	f.timeout = f.env.electionTimeout()
	return true, nil
}

// proxy forwards a local or mis-routed client call to the known leader,
// recording the originator so the eventual response can be routed back.
func (f *Follower) proxy(msg Message, callID string) {
	if f.leader == nil {
		f.respondError(msg, callID, "no leader known")
		return
	}
	f.proxyCalls[callID] = originatorOf(msg)
	f.env.send(*f.leader, msg.Event)
}

func (f *Follower) respondError(msg Message, callID, errMsg string) {
	resp := RespondError{CallID: callID, Error: errMsg}
	if msg.From == "" {
		f.env.respondLocal(resp)
		return
	}
	f.env.send(msg.From, resp)
}

func (f *Follower) routeProxied(callID string, event Event) {
	originator, ok := f.proxyCalls[callID]
	if !ok {
		return
	}
	delete(f.proxyCalls, callID)
	if originator == nil {
		f.env.respondLocal(event)
		return
	}
	f.env.send(*originator, event)
}
