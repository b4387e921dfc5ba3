package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btmorr/raftkv/internal/kvstate"
	"github.com/btmorr/raftkv/internal/store"
)

// testNode bundles an Envelope/Role pair with its own outbound channel, so
// tests can drive Tick/Step directly without a real Driver or Transport.
type testNode struct {
	id       string
	outbound chan Message
	env      *Envelope
	role     Role
	local    []Message // messages this node sent to To == "" (local delivery)
}

func newTestNode(t *testing.T, id string, peers []string) *testNode {
	t.Helper()
	logStore, err := NewLog(store.NewMemStore())
	require.NoError(t, err)
	state := kvstate.New(store.NewMemStore())
	outbound := make(chan Message, 256)
	env := NewEnvelope(id, peers, logStore, state, outbound)
	return &testNode{id: id, outbound: outbound, env: env, role: NewFollower(env)}
}

// cluster is a small set of testNodes that can exchange messages
// synchronously, without any real network or clock.
type cluster struct {
	nodes map[string]*testNode
}

func newCluster(t *testing.T, ids []string) *cluster {
	t.Helper()
	c := &cluster{nodes: make(map[string]*testNode)}
	for _, id := range ids {
		peers := make([]string, 0, len(ids)-1)
		for _, other := range ids {
			if other != id {
				peers = append(peers, other)
			}
		}
		c.nodes[id] = newTestNode(t, id, peers)
	}
	return c
}

// settle drains every node's outbound queue, routing peer-addressed
// messages into the recipient's Step and collecting locally-addressed
// ones, until no node has anything left to send.
func (c *cluster) settle(t *testing.T) {
	t.Helper()
	for {
		progressed := false
		for _, n := range c.nodes {
			for {
				var msg Message
				select {
				case msg = <-n.outbound:
				default:
					goto nextNode
				}
				progressed = true
				if msg.To == "" {
					n.local = append(n.local, msg)
					continue
				}
				dest, ok := c.nodes[msg.To]
				if !ok {
					continue
				}
				next, err := dest.role.Step(msg)
				require.NoError(t, err)
				dest.role = next
			}
		nextNode:
		}
		if !progressed {
			return
		}
	}
}

func (c *cluster) tickAll(t *testing.T) {
	t.Helper()
	for _, n := range c.nodes {
		next, err := n.role.Tick()
		require.NoError(t, err)
		n.role = next
	}
}

func lastLocal(n *testNode) (Message, bool) {
	if len(n.local) == 0 {
		return Message{}, false
	}
	return n.local[len(n.local)-1], true
}

func TestSingleNodeElectsAndCommits(t *testing.T) {
	c := newCluster(t, []string{"n1"})
	n1 := c.nodes["n1"]

	// A lone node has no peers to wait on; one tick past the election
	// timeout is enough to become its own leader.
	for i := 0; i < ElectionTimeoutMax+1; i++ {
		c.tickAll(t)
	}
	_, isLeader := n1.role.(*Leader)
	require.True(t, isLeader, "single node should have become leader")

	next, err := n1.role.Step(Message{From: "", Event: MutateState{CallID: "call-1", Command: kvstate.EncodeSet("x", []byte("1"))}})
	require.NoError(t, err)
	n1.role = next
	c.settle(t)

	resp, ok := lastLocal(n1)
	require.True(t, ok, "mutate should have produced a local response")
	rs, ok := resp.Event.(RespondState)
	require.True(t, ok, "expected RespondState, got %T", resp.Event)
	assert.Equal(t, "call-1", rs.CallID)
}

func TestTwoNodeElectionAndReplication(t *testing.T) {
	c := newCluster(t, []string{"n1", "n2"})
	n1, n2 := c.nodes["n1"], c.nodes["n2"]

	// Force n1 to campaign and let the cluster exchange vote messages.
	n1.role = NewCandidate(n1.env)
	c.settle(t)

	_, n1Leader := n1.role.(*Leader)
	_, n2Follower := n2.role.(*Follower)
	assert.True(t, n1Leader, "n1 should have won the election")
	assert.True(t, n2Follower, "n2 should remain follower")

	last, _ := n2.env.Log.LastIndexTerm()
	assert.GreaterOrEqual(t, last, uint64(1), "n2 should have replicated the leader's no-op entry")

	next, err := n1.role.Step(Message{From: "", Event: MutateState{CallID: "call-2", Command: kvstate.EncodeSet("k", []byte("v"))}})
	require.NoError(t, err)
	n1.role = next
	c.settle(t)

	resp, ok := lastLocal(n1)
	require.True(t, ok)
	rs, ok := resp.Event.(RespondState)
	require.True(t, ok, "expected RespondState, got %T", resp.Event)
	assert.Equal(t, "call-2", rs.CallID)

	n2Last, _ := n2.env.Log.LastIndexTerm()
	assert.Equal(t, uint64(2), n2Last, "follower should have replicated the mutate entry too")
}

func TestHeartbeatRejectsCommitIndexBeyondLog(t *testing.T) {
	c := newCluster(t, []string{"n1", "n2"})
	n2 := c.nodes["n2"]

	next, err := n2.role.Step(Message{Term: 1, From: "n1", Event: Heartbeat{CommitIndex: 5, CommitTerm: 1}})
	require.NoError(t, err)
	n2.role = next

	msg := <-n2.outbound
	confirm, ok := msg.Event.(ConfirmLeader)
	require.True(t, ok)
	assert.False(t, confirm.HasCommitted, "follower's empty log cannot match commit_index 5")
}

func TestFollowerProxiesCallToKnownLeader(t *testing.T) {
	c := newCluster(t, []string{"n1", "n2"})
	n1, n2 := c.nodes["n1"], c.nodes["n2"]

	n1.role = NewCandidate(n1.env)
	c.settle(t)
	_, n1Leader := n1.role.(*Leader)
	require.True(t, n1Leader)

	// n2 now knows n1 is the leader (it replied AcceptEntries to n1's
	// replication); a local call arriving at the follower should be
	// proxied and its response routed back.
	next, err := n2.role.Step(Message{From: "", Event: MutateState{CallID: "proxied-1", Command: kvstate.EncodeSet("p", []byte("q"))}})
	require.NoError(t, err)
	n2.role = next
	c.settle(t)

	resp, ok := lastLocal(n2)
	require.True(t, ok, "the proxied call's response should be delivered back to n2's local caller")
	rs, ok := resp.Event.(RespondState)
	require.True(t, ok, "expected RespondState, got %T", resp.Event)
	assert.Equal(t, "proxied-1", rs.CallID)
}
