package topic

import (
	"fmt"
	"strings"

	"github.com/c360/testbedbus/errors"
)

// Broker wildcards.
const (
	Separator   = "/"
	WildcardOne = "+"
	WildcardAll = "#"
)

// MatchFilter reports whether a concrete topic matches a subscription
// filter: "+" matches exactly one level, a trailing "#" matches the parent
// level and everything below it. Topics starting with "$" are not matched
// by a leading wildcard.
func MatchFilter(filter, topic string) bool {
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, WildcardOne) || strings.HasPrefix(filter, WildcardAll)) {
		return false
	}

	fl := strings.Split(filter, Separator)
	tl := strings.Split(topic, Separator)

	for i, f := range fl {
		if f == WildcardAll {
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if f != WildcardOne && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}

// ValidateFilter checks wildcard placement: "+" and "#" must fill a whole
// level and "#" may only be the last level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("empty filter: %w", errors.ErrInvalidValue)
	}
	levels := strings.Split(filter, Separator)
	for i, level := range levels {
		if level == WildcardOne || (level == WildcardAll && i == len(levels)-1) {
			continue
		}
		if strings.ContainsAny(level, WildcardOne+WildcardAll) {
			return fmt.Errorf("filter %q level %d: %w", filter, i, errors.ErrInvalidValue)
		}
	}
	return nil
}
