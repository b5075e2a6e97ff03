// Package trie implements the wildcard-aware subscription trie: the
// engine that matches a publish SSID against every subscribed pattern.
//
// Orphan pruning follows spec §9 Design Note (b): instead of storing a
// parent back-pointer in every node (the original Rust source's approach,
// see original_source/src/broker/message.rs's trait-object Subscriber and
// the session/server actors that would have needed it), Unsubscribe
// records the descent path on the stack and walks it in reverse to prune,
// since it already walks the path top-down to find the terminal node.
package trie

import (
	"errors"

	"github.com/gonzalop/zqttd/internal/chanid"
	"github.com/gonzalop/zqttd/internal/subscriber"
	"github.com/gonzalop/zqttd/internal/topic"
)

var (
	// ErrPathMissing is returned by Unsubscribe when the SSID's path does
	// not exist in the trie.
	ErrPathMissing = errors.New("trie: path missing")
	// ErrNotFound is returned by Unsubscribe when the path exists but the
	// subscriber id was not registered at the terminal node.
	ErrNotFound = errors.New("trie: subscriber not found")
)

// node is one level of the trie. chanID is the key under which this node
// is stored in its parent's children map; the root has no chanID and no
// parent is ever stored (see package doc).
type node struct {
	chanID   chanid.ID
	children map[chanid.ID]*node
	subs     map[string]subscriber.Subscriber
}

func newNode(id chanid.ID) *node {
	return &node{
		chanID:   id,
		children: make(map[chanid.ID]*node),
		subs:     make(map[string]subscriber.Subscriber),
	}
}

// Trie is not intrinsically thread-safe (spec §4.2/§9): it is designed to
// be owned exclusively by a single broker goroutine.
type Trie struct {
	root *node
}

// New returns an empty trie containing only the root.
func New() *Trie {
	return &Trie{root: newNode(0)}
}

// Subscribe descends the SSID, creating missing nodes, and registers sub
// at the terminal node. Idempotent: subscribing the same (ssid, sub.ID())
// again overwrites the prior registration and never fails.
func (t *Trie) Subscribe(ssid topic.SSID, sub subscriber.Subscriber) {
	cur := t.root
	for _, id := range ssid {
		child, ok := cur.children[id]
		if !ok {
			child = newNode(id)
			cur.children[id] = child
		}
		cur = child
	}
	cur.subs[sub.ID()] = sub
}

// Unsubscribe removes subscriberID from the terminal node of ssid, then
// prunes any node left with empty subs and empty children, walking back
// up toward (but never including) the root.
func (t *Trie) Unsubscribe(ssid topic.SSID, subscriberID string) error {
	path := make([]*node, 0, len(ssid)+1)
	path = append(path, t.root)

	cur := t.root
	for _, id := range ssid {
		child, ok := cur.children[id]
		if !ok {
			return ErrPathMissing
		}
		path = append(path, child)
		cur = child
	}

	terminal := cur
	if _, ok := terminal.subs[subscriberID]; !ok {
		return ErrNotFound
	}
	delete(terminal.subs, subscriberID)

	for i := len(path) - 1; i > 0; i-- {
		n := path[i]
		if len(n.subs) != 0 || len(n.children) != 0 {
			break
		}
		parent := path[i-1]
		delete(parent.children, n.chanID)
	}

	return nil
}

// Lookup returns every subscriber whose subscription pattern matches ssid,
// deduplicated by subscriber id (set semantics). ssid must contain no
// wildcard channel IDs (it is a publish SSID).
func (t *Trie) Lookup(ssid topic.SSID) map[string]subscriber.Subscriber {
	matched := make(map[string]subscriber.Subscriber)
	t.walk(t.root, ssid, 0, matched)
	return matched
}

func (t *Trie) walk(n *node, ssid topic.SSID, i int, matched map[string]subscriber.Subscriber) {
	if i == len(ssid) {
		for id, s := range n.subs {
			matched[id] = s
		}
		if mw, ok := n.children[chanid.MW]; ok {
			for id, s := range mw.subs {
				matched[id] = s
			}
		}
		return
	}

	if mw, ok := n.children[chanid.MW]; ok {
		for id, s := range mw.subs {
			matched[id] = s
		}
	}
	if sw, ok := n.children[chanid.SW]; ok {
		t.walk(sw, ssid, i+1, matched)
	}
	if exact, ok := n.children[ssid[i]]; ok {
		t.walk(exact, ssid, i+1, matched)
	}
}

// Empty reports whether the trie has been pruned back down to just the
// root (no children, no subs anywhere) — used by tests to verify P3.
func (t *Trie) Empty() bool {
	return len(t.root.children) == 0 && len(t.root.subs) == 0
}

// NodeCount walks the whole trie and returns the number of non-root nodes
// reachable from root — used by tests to verify P5 (idempotent subscribe).
func (t *Trie) NodeCount() int {
	var count func(n *node) int
	count = func(n *node) int {
		c := 0
		for _, child := range n.children {
			c += 1 + count(child)
		}
		return c
	}
	return count(t.root)
}

// CheckInvariants walks the whole trie verifying I4 cannot be violated
// (non-root node is reachable only via its chanID key in its parent) and
// P4 (no orphans: every non-root node has subs or children). It returns
// the first invariant violation found, or nil.
func (t *Trie) CheckInvariants() error {
	var walk func(n *node, isRoot bool) error
	walk = func(n *node, isRoot bool) error {
		if !isRoot && len(n.subs) == 0 && len(n.children) == 0 {
			return errors.New("trie: orphan node with empty subs and children")
		}
		for key, child := range n.children {
			if child.chanID != key {
				return errors.New("trie: child stored under wrong key")
			}
			if err := walk(child, false); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(t.root, true)
}
