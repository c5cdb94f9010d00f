package profile

import (
	"slices"
	"strings"
	"sync"

	"github.com/easeaico/petpal/internal/types"
)

type factKey struct {
	subject   string
	attribute types.AttributeKey
}

// Table holds at most one fact per (subject, attribute). Writes overwrite.
type Table struct {
	mu    sync.RWMutex
	facts map[factKey]types.ProfileFact
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{facts: make(map[factKey]types.ProfileFact)}
}

// Upsert stores fact, replacing any previous value for the same key.
func (t *Table) Upsert(fact types.ProfileFact) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.facts[factKey{fact.Subject, fact.Attribute}] = fact
}

// Get looks up one fact.
func (t *Table) Get(subject string, attribute types.AttributeKey) (types.ProfileFact, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fact, ok := t.facts[factKey{subject, attribute}]
	return fact, ok
}

// Facts returns every fact about subject ordered by attribute.
func (t *Table) Facts(subject string) []types.ProfileFact {
	t.mu.RLock()
	var out []types.ProfileFact
	for k, f := range t.facts {
		if k.subject == subject {
			out = append(out, f)
		}
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b types.ProfileFact) int {
		return strings.Compare(string(a.Attribute), string(b.Attribute))
	})
	return out
}

// DeleteSubject drops every fact about subject.
func (t *Table) DeleteSubject(subject string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.facts {
		if k.subject == subject {
			delete(t.facts, k)
		}
	}
}

// Len returns the number of stored facts.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.facts)
}
