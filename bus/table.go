package bus

import (
	"sort"
	"sync"

	"github.com/c360/testbedbus/topic"
)

// callbackTable maps subscription filters to callbacks. Only the table is
// guarded; callbacks run outside the lock.
type callbackTable struct {
	mu        sync.RWMutex
	callbacks map[string]Callback
}

func newCallbackTable() *callbackTable {
	return &callbackTable{callbacks: make(map[string]Callback)}
}

// set installs cb for filter and returns the callback it replaced.
func (t *callbackTable) set(filter string, cb Callback) (Callback, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.callbacks[filter]
	t.callbacks[filter] = cb
	return prev, ok
}

func (t *callbackTable) remove(filter string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.callbacks, filter)
}

// match returns the callbacks whose filter matches name, ordered by
// filter.
func (t *callbackTable) match(name string) []Callback {
	t.mu.RLock()
	var filters []string
	for f := range t.callbacks {
		if topic.MatchFilter(f, name) {
			filters = append(filters, f)
		}
	}
	sort.Strings(filters)
	out := make([]Callback, len(filters))
	for i, f := range filters {
		out[i] = t.callbacks[f]
	}
	t.mu.RUnlock()
	return out
}

func (t *callbackTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.callbacks)
}
