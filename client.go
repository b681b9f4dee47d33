package loom

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// ClientOptions configures a networked Client.
type ClientOptions[C, D, A any] struct {
	// URL is the sequencer daemon's websocket endpoint, e.g.
	// "ws://localhost:8080/ws".
	URL string

	// Family and Anchors are passed through to the embedded EditManager.
	Family  ChangeFamily[C, D, A]
	Anchors A

	// Session is the local session identity. A fresh one is minted when
	// empty.
	Session SessionID

	// OnDelta receives the delta emitted for every event the manager
	// processes (local submissions included). Called on the client's
	// internal goroutine for sequenced commits; never concurrently with
	// itself.
	OnDelta func(D)

	// Store, when set, checkpoints a snapshot under SnapshotName after
	// every sequenced commit.
	Store        *BoltSnapshotStore[C]
	SnapshotName string

	// DebugChecks is passed through to the embedded EditManager.
	DebugChecks bool
}

// Client owns an EditManager and keeps it fed from a sequencer daemon over
// a websocket, reconnecting with exponential backoff and resyncing from
// the trunk tail after every reconnect. Submissions made while offline sit
// in the local branch and are resent on reconnect.
//
// Delivery to the sequencer is at-least-once: a submission whose
// acknowledgement was lost to a dropped connection is resent and may be
// sequenced twice. Hosts that need exactly-once must dedup in the change
// family or above.
type Client[C, D, A any] struct {
	opts    ClientOptions[C, D, A]
	session SessionID

	mu      sync.Mutex
	manager *EditManager[C, D, A]
	conn    *websocket.Conn
}

// NewClient builds a client around a fresh EditManager.
func NewClient[C, D, A any](opts ClientOptions[C, D, A]) (*Client[C, D, A], error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: ClientOptions.URL is required", ErrUsage)
	}
	manager, err := NewEditManager(Options[C, D, A]{
		Family:      opts.Family,
		Anchors:     opts.Anchors,
		DebugChecks: opts.DebugChecks,
	})
	if err != nil {
		return nil, err
	}
	session := opts.Session
	if session == "" {
		session = NewSessionID()
	}
	if err := manager.SetLocalSessionID(session); err != nil {
		return nil, err
	}
	return &Client[C, D, A]{opts: opts, session: session, manager: manager}, nil
}

// RestoreClient builds a client from a previously saved snapshot.
func RestoreClient[C, D, A any](opts ClientOptions[C, D, A], snap Snapshot[C]) (*Client[C, D, A], error) {
	c, err := NewClient(opts)
	if err != nil {
		return nil, err
	}
	manager, err := RestoreEditManager(Options[C, D, A]{
		Family:      opts.Family,
		Anchors:     opts.Anchors,
		DebugChecks: opts.DebugChecks,
	}, snap)
	if err != nil {
		return nil, err
	}
	if s := manager.LocalSessionID(); s != "" {
		c.session = s
	}
	c.manager = manager
	return c, nil
}

// Session returns the local session identity.
func (c *Client[C, D, A]) Session() SessionID {
	return c.session
}

// Submit records a local edit and, when connected, forwards it to the
// sequencer. The returned delta is the one AddLocalChange emitted.
func (c *Client[C, D, A]) Submit(change C) (D, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delta, err := c.manager.AddLocalChange(change)
	if err != nil {
		var zero D
		return zero, err
	}
	if c.conn != nil {
		if err := c.send(change); err != nil {
			// The edit stays on the local branch and is resent after
			// reconnect; surface nothing to the caller.
			glog.V(1).Infof("loom: submit deferred to reconnect: %v", err)
			c.conn.Close()
			c.conn = nil
		}
	}
	if c.opts.OnDelta != nil {
		c.opts.OnDelta(delta)
	}
	return delta, nil
}

// send writes one submission. Callers hold c.mu.
func (c *Client[C, D, A]) send(change C) error {
	msg, err := EncodeSubmit(c.opts.Family.Encoder(), c.session, c.manager.trunk.tailSeq(), change)
	if err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

// Trunk exposes the embedded manager's trunk.
func (c *Client[C, D, A]) Trunk() []Commit[C] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manager.Trunk()
}

// LocalChanges exposes the embedded manager's local branch.
func (c *Client[C, D, A]) LocalChanges() []C {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manager.LocalChanges()
}

// Run connects to the daemon and pumps sequenced commits into the manager
// until ctx is cancelled. Connection failures are retried with exponential
// backoff; a protocol violation from the manager is fatal and returned.
func (c *Client[C, D, A]) Run(ctx context.Context) error {
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 0 // retry until cancelled
	policy := backoff.WithContext(eb, ctx)
	return backoff.Retry(func() error {
		err := c.runOnce(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if isFatal(err) {
			return backoff.Permanent(err)
		}
		glog.V(1).Infof("loom: connection lost, retrying: %v", err)
		return err
	}, policy)
}

// runOnce performs one connect/resync/read cycle.
func (c *Client[C, D, A]) runOnce(ctx context.Context) error {
	c.mu.Lock()
	since := c.manager.trunk.tailSeq()
	pending := c.manager.LocalChanges()
	c.mu.Unlock()

	url := fmt.Sprintf("%s?since=%d", c.opts.URL, since)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	glog.V(1).Infof("loom: session %s connected to %s (since %d, %d pending)",
		c.session, c.opts.URL, since, len(pending))

	c.mu.Lock()
	c.conn = conn
	// Resend edits the daemon may never have seen. They are already
	// rebased onto everything the manager has ingested.
	for _, change := range pending {
		if err := c.send(change); err != nil {
			c.conn = nil
			c.mu.Unlock()
			return err
		}
	}
	c.mu.Unlock()

	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-readDone:
		}
	}()

	for {
		var msg CommitMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			return err
		}
		if err := c.deliver(msg); err != nil {
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			return err
		}
	}
}

// deliver ingests one broadcast commit.
func (c *Client[C, D, A]) deliver(msg CommitMessage) error {
	commit, err := DecodeCommit(c.opts.Family.Encoder(), msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A resync can replay commits the manager already holds.
	if commit.Seq <= c.manager.trunk.tailSeq() {
		return nil
	}
	delta, err := c.manager.AddSequencedChange(commit)
	if err != nil {
		return err
	}
	if c.opts.OnDelta != nil {
		c.opts.OnDelta(delta)
	}
	if c.opts.Store != nil {
		if err := c.opts.Store.Save(c.snapshotName(), c.manager.Snapshot()); err != nil {
			glog.V(1).Infof("loom: checkpoint failed: %v", err)
		}
	}
	return nil
}

func (c *Client[C, D, A]) snapshotName() string {
	if c.opts.SnapshotName != "" {
		return c.opts.SnapshotName
	}
	return string(c.session)
}

// isFatal reports whether an error poisons the manager rather than the
// connection.
func isFatal(err error) bool {
	return errors.Is(err, ErrProtocolViolation) || errors.Is(err, ErrUsage)
}
