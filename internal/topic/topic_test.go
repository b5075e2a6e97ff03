package topic

import "testing"

func TestParseSubscription(t *testing.T) {
	tests := []struct {
		topic string
		ok    bool
	}{
		{"", false},
		{"#/a", false},
		// A trailing '+' is accepted; see validateSubscription and
		// DESIGN.md's "Topic grammar ambiguity" entry for why this
		// diverges from spec §8 S5's "a/+ -> err (trailing +)" vector.
		{"a/+", true},
		{"a/b/c", true},
		{"+/b/+/c/#", true},
		{"#", true},
		{"+", true},
		{"hello/#", true},
		{"hello/+", true},
		{"hello/+/zqtt", true},
		{"hello/mqtt/+/+", true},
		{"a//b", false},
		{"a/b$/c", false},
	}

	for _, tt := range tests {
		_, err := ParseSubscription(tt.topic)
		if tt.ok && err != nil {
			t.Errorf("ParseSubscription(%q): expected ok, got %v", tt.topic, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("ParseSubscription(%q): expected error, got none", tt.topic)
		}
	}
}

func TestParsePublish(t *testing.T) {
	tests := []struct {
		topic string
		ok    bool
	}{
		{"a/b/c", true},
		{"a", true},
		{"", false},
		{"a/+", false},
		{"a/#", false},
		{"#", false},
	}

	for _, tt := range tests {
		_, err := ParsePublish(tt.topic)
		if tt.ok && err != nil {
			t.Errorf("ParsePublish(%q): expected ok, got %v", tt.topic, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("ParsePublish(%q): expected error, got none", tt.topic)
		}
	}
}

func TestParseSubscriptionSameTopicSameSSID(t *testing.T) {
	a, err := ParseSubscription("hello/mqtt/+")
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseSubscription("hello/mqtt/+")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("segment %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}
