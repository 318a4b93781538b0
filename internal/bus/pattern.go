package bus

import (
	"fmt"
	"strings"
)

// Match reports whether topic matches an AMQP-style binding pattern: words
// are separated by '.', '*' matches exactly one word and '#' matches zero or
// more words.
func Match(pattern, topic string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(topic, "."))
}

func matchWords(pattern, topic []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			rest := pattern[1:]
			for i := 0; i <= len(topic); i++ {
				if matchWords(rest, topic[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(topic) == 0 {
				return false
			}
		default:
			if len(topic) == 0 || topic[0] != pattern[0] {
				return false
			}
		}
		pattern, topic = pattern[1:], topic[1:]
	}
	return len(topic) == 0
}

// IsWildcard reports whether pattern contains '*' or '#' words.
func IsWildcard(pattern string) bool {
	for _, w := range strings.Split(pattern, ".") {
		if w == "*" || w == "#" {
			return true
		}
	}
	return false
}

func validateTopic(topic string, allowWildcards bool) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	for _, w := range strings.Split(topic, ".") {
		if w == "" {
			return fmt.Errorf("%w: empty word in %q", ErrInvalidTopic, topic)
		}
		if !allowWildcards && (w == "*" || w == "#") {
			return fmt.Errorf("%w: wildcard in published topic %q", ErrInvalidTopic, topic)
		}
	}
	return nil
}
