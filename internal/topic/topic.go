// Package topic implements the subscription/publish topic grammar: a small
// tokenize-then-validate checker that normalizes a topic string into an SSID
// (a sequence of channel IDs) before it ever reaches the subscription trie.
//
// The grammar is grounded on original_source/src/util/topic.rs's
// TopicParser (tokenize, then a top-level/channel recursive descent), and
// the per-segment character-class validation follows the teacher's
// validateSubscribeTopic/validatePublishTopic
// (_examples/gonzalop-mq/topic.go).
package topic

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gonzalop/zqttd/internal/chanid"
)

// SSID is the ordered sequence of channel IDs produced by parsing a topic.
type SSID []chanid.ID

// String renders an SSID for logging/debugging. It is not a reverse parse.
func (s SSID) String() string {
	parts := make([]string, len(s))
	for i, id := range s {
		parts[i] = fmt.Sprintf("%x", uint64(id))
	}
	return strings.Join(parts, "/")
}

// ParseError reports why a topic string was rejected.
type ParseError struct {
	Topic string
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid topic %q: %s", e.Topic, e.Msg)
}

var identRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type tokenKind int

const (
	tokenName tokenKind = iota
	tokenSW             // '+'
	tokenMW             // '#'
)

type token struct {
	kind tokenKind
	name string
}

func tokenize(s string) ([]token, error) {
	if s == "" {
		return nil, &ParseError{Topic: s, Msg: "empty topic"}
	}

	parts := strings.Split(s, "/")
	tokens := make([]token, len(parts))

	for i, p := range parts {
		switch p {
		case "+":
			tokens[i] = token{kind: tokenSW}
		case "#":
			tokens[i] = token{kind: tokenMW}
		default:
			if p == "" || !identRe.MatchString(p) {
				return nil, &ParseError{Topic: s, Msg: "invalid characters"}
			}
			tokens[i] = token{kind: tokenName, name: p}
		}
	}

	return tokens, nil
}

// validateSubscription enforces the wildcard placement rule of spec §4.1
// that every one of S1's eleven concrete filters depends on: '#' must be
// the last segment and the only segment at that level. '+' is a full
// single-level wildcard and may occupy any segment, including the last
// one (so "hello/+" and a bare "+" are both legal filters, matching
// ordinary MQTT subscription semantics).
func validateSubscription(s string, tokens []token) error {
	n := len(tokens)

	for i, tk := range tokens {
		if tk.kind == tokenMW && i != n-1 {
			return &ParseError{Topic: s, Msg: "multi-level wildcard '#' must be the last segment"}
		}
	}

	return nil
}

func validatePublish(s string, tokens []token) error {
	for _, tk := range tokens {
		if tk.kind != tokenName {
			return &ParseError{Topic: s, Msg: "wildcards are not allowed in a publish topic"}
		}
	}
	return nil
}

func toSSID(tokens []token) SSID {
	ssid := make(SSID, len(tokens))
	for i, tk := range tokens {
		switch tk.kind {
		case tokenSW:
			ssid[i] = chanid.SW
		case tokenMW:
			ssid[i] = chanid.MW
		default:
			ssid[i] = chanid.Hash([]byte(tk.name))
		}
	}
	return ssid
}

// ParseSubscription validates a SUBSCRIBE-form topic filter and returns its
// SSID. Wildcards are accepted per spec §4.1.
func ParseSubscription(s string) (SSID, error) {
	tokens, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	if err := validateSubscription(s, tokens); err != nil {
		return nil, err
	}
	return toSSID(tokens), nil
}

// ParsePublish validates a PUBLISH-form topic and returns its SSID.
// Wildcards are rejected.
func ParsePublish(s string) (SSID, error) {
	tokens, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	if err := validatePublish(s, tokens); err != nil {
		return nil, err
	}
	return toSSID(tokens), nil
}
