package bus

import (
	"errors"
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"a.b", "a.b", true},
		{"a.b", "a.c", false},
		{"a.*", "a.b", true},
		{"a.*", "a.b.c", false},
		{"a.*", "a", false},
		{"#", "a.b.c", true},
		{"#", "a", true},
		{"#.FrameTransformations", "ArUco.0.FrameTransformations", true},
		{"#.FrameTransformations", "FrameTransformations", true},
		{"#.FrameTransformations", "FrameTransformation.A.B", false},
		{"FrameTransformation.#", "FrameTransformation.A.B", true},
		{"FrameTransformation.*.*", "FrameTransformation.A.H.B", false},
		{"a.#.z", "a.z", true},
		{"a.#.z", "a.b.c.z", true},
		{"a.#.z", "a.b.c", false},
	}
	for _, tt := range tests {
		if got := Match(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}

func TestIsWildcard(t *testing.T) {
	if IsWildcard("FrameTransformation.A.B") {
		t.Error("exact topic reported as wildcard")
	}
	if !IsWildcard("#.FrameTransformations") || !IsWildcard("a.*.b") {
		t.Error("wildcard pattern not detected")
	}
	if IsWildcard("a.b*") {
		t.Error("'*' inside a word is not a wildcard")
	}
}

func TestValidateTopic(t *testing.T) {
	for _, bad := range []string{"", "a..b", ".a", "a."} {
		if err := validateTopic(bad, true); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("validateTopic(%q) = %v, want ErrInvalidTopic", bad, err)
		}
	}
	if err := validateTopic("a.#", false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("wildcard publish allowed: %v", err)
	}
	if err := validateTopic("a.#", true); err != nil {
		t.Errorf("wildcard subscribe rejected: %v", err)
	}
}
