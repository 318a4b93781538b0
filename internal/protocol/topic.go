// Package protocol translates between external addressing (dotted topics,
// RPC fields, CLI arguments) and the frames engine, and between engine
// results and the tensor messages carried on the wire.
package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/banshee-data/frametransform/internal/frames"
)

// ErrInvalidQuery is returned for any malformed request or frame name.
var ErrInvalidQuery = errors.New("invalid query")

const (
	// TopicPrefix starts every query topic: "FrameTransformation.FROM.H1.TO".
	TopicPrefix = "FrameTransformation"
	// BatchSuffix ends every observation topic: "<source>.FrameTransformations".
	BatchSuffix = "FrameTransformations"
	// BatchPattern subscribes to every observation topic.
	BatchPattern = "#." + BatchSuffix
)

var queryTopicRe = regexp.MustCompile(`^FrameTransformation(?:\.[^.\s*#]+){2,}$`)

// IsQueryTopic reports whether topic addresses a transform query.
func IsQueryTopic(topic string) bool {
	return queryTopicRe.MatchString(topic)
}

// ValidateFrameID checks a frame name usable inside dotted topics.
func ValidateFrameID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty frame id", ErrInvalidQuery)
	}
	for _, r := range id {
		if r == '.' || r == '*' || r == '#' || unicode.IsSpace(r) {
			return fmt.Errorf("%w: frame id %q contains %q", ErrInvalidQuery, id, r)
		}
	}
	return nil
}

// NewQuery builds a query from separate fields, trimming and validating
// every name.
func NewQuery(from string, hints []string, to string) (frames.Query, error) {
	q := frames.Query{}
	var err error
	if q.From, err = normalize(from); err != nil {
		return frames.Query{}, err
	}
	if q.To, err = normalize(to); err != nil {
		return frames.Query{}, err
	}
	for _, h := range hints {
		id, err := normalize(h)
		if err != nil {
			return frames.Query{}, err
		}
		q.Hints = append(q.Hints, id)
	}
	return q, nil
}

// ParseQuery parses "FROM.H1.H2.TO". At least two identifiers are required.
func ParseQuery(s string) (frames.Query, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 {
		return frames.Query{}, fmt.Errorf("%w: %q needs at least FROM.TO", ErrInvalidQuery, s)
	}
	return NewQuery(parts[0], parts[1:len(parts)-1], parts[len(parts)-1])
}

// ParseTopic parses "FrameTransformation.FROM.H1.TO".
func ParseTopic(topic string) (frames.Query, error) {
	rest, ok := strings.CutPrefix(topic, TopicPrefix+".")
	if !ok {
		return frames.Query{}, fmt.Errorf("%w: topic %q lacks %s prefix", ErrInvalidQuery, topic, TopicPrefix)
	}
	return ParseQuery(rest)
}

// FormatTopic renders q as a query topic.
func FormatTopic(q frames.Query) string {
	return TopicPrefix + "." + q.Key()
}

// BatchTopic returns the observation topic for a producer.
func BatchTopic(source string) string {
	return source + "." + BatchSuffix
}

// BatchSource extracts the producer name from an observation topic.
func BatchSource(topic string) (string, bool) {
	src, ok := strings.CutSuffix(topic, "."+BatchSuffix)
	if !ok || src == "" {
		return "", false
	}
	return src, true
}

func normalize(s string) (frames.FrameID, error) {
	s = strings.TrimSpace(s)
	if err := ValidateFrameID(s); err != nil {
		return "", err
	}
	return frames.FrameID(s), nil
}
