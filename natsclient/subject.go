package natsclient

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/testbedbus/errors"
	"github.com/c360/testbedbus/topic"
)

// Topic levels map to subject tokens. A level holding characters NATS
// reserves is percent-escaped, and an empty level becomes a lone "%",
// which no escaped level can produce.
const (
	subjectSep   = "."
	emptyToken   = "%"
	wildcardOne  = "*"
	wildcardTail = ">"
)

func escapeLevel(level string) string {
	if level == "" {
		return emptyToken
	}
	if !strings.ContainsAny(level, "%.*> \t\r\n") {
		return level
	}
	var b strings.Builder
	for i := 0; i < len(level); i++ {
		switch c := level[i]; c {
		case '%', '.', '*', '>', ' ', '\t', '\r', '\n':
			fmt.Fprintf(&b, "%%%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func unescapeToken(token string) (string, error) {
	if token == emptyToken {
		return "", nil
	}
	if !strings.Contains(token, "%") {
		return token, nil
	}
	var b strings.Builder
	for i := 0; i < len(token); i++ {
		if token[i] != '%' {
			b.WriteByte(token[i])
			continue
		}
		if i+2 >= len(token) {
			return "", fmt.Errorf("truncated escape in %q: %w", token, errors.ErrInvalidValue)
		}
		c, err := strconv.ParseUint(token[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("bad escape in %q: %w", token, errors.ErrInvalidValue)
		}
		b.WriteByte(byte(c))
		i += 2
	}
	return b.String(), nil
}

// TopicToSubject maps a concrete topic name to a NATS subject.
func TopicToSubject(name string) (string, error) {
	if strings.ContainsAny(name, topic.WildcardOne+topic.WildcardAll) {
		return "", fmt.Errorf("topic %q holds wildcards: %w", name, errors.ErrInvalidValue)
	}
	levels := strings.Split(name, topic.Separator)
	for i, l := range levels {
		levels[i] = escapeLevel(l)
	}
	return strings.Join(levels, subjectSep), nil
}

// FilterToSubjects maps a topic filter to NATS subscription subjects: "+"
// becomes "*" and a trailing "#" becomes ">". As "#" also matches its
// parent level, "a/#" yields both "a" and "a.>".
func FilterToSubjects(filter string) ([]string, error) {
	if err := topic.ValidateFilter(filter); err != nil {
		return nil, err
	}
	levels := strings.Split(filter, topic.Separator)
	tokens := make([]string, len(levels))
	for i, l := range levels {
		switch l {
		case topic.WildcardOne:
			tokens[i] = wildcardOne
		case topic.WildcardAll:
			tokens[i] = wildcardTail
		default:
			tokens[i] = escapeLevel(l)
		}
	}

	subject := strings.Join(tokens, subjectSep)
	if len(tokens) > 1 && tokens[len(tokens)-1] == wildcardTail {
		return []string{strings.Join(tokens[:len(tokens)-1], subjectSep), subject}, nil
	}
	return []string{subject}, nil
}

// SubjectToTopic is the inverse of TopicToSubject.
func SubjectToTopic(subject string) (string, error) {
	tokens := strings.Split(subject, subjectSep)
	for i, tok := range tokens {
		level, err := unescapeToken(tok)
		if err != nil {
			return "", err
		}
		tokens[i] = level
	}
	return strings.Join(tokens, topic.Separator), nil
}
