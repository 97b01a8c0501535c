package topic

import (
	"fmt"
	"strings"

	"github.com/c360/testbedbus/errors"
)

const (
	errorLevel  = "error/"
	errorFilter = "error/#"
)

// ErrorBase returns the error namespace of base, ending with a separator.
func ErrorBase(base string) string { return Join(base, errorLevel) }

// ErrorFilter returns the filter receiving every error under base.
func ErrorFilter(base string) string { return Join(base, errorFilter) }

// RelativeTopic strips base from topic along with leading separators.
// topic must be base itself or lie below it at a level boundary.
func RelativeTopic(base, topic string) (string, error) {
	rest, ok := strings.CutPrefix(topic, base)
	if !ok || (base != "" && rest != "" && !strings.HasSuffix(base, Separator) && !strings.HasPrefix(rest, Separator)) {
		return "", fmt.Errorf("topic %q under %q: %w", topic, base, errors.ErrNotSubtopic)
	}
	return strings.TrimLeft(rest, Separator), nil
}
