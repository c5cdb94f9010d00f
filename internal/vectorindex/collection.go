package vectorindex

import (
	"slices"

	"github.com/easeaico/petpal/internal/types"
)

// Hit is one search result of a Collection.
type Hit struct {
	ID       int
	Text     string
	Distance float32
}

// Collection pairs a FlatIndex with the source text of every vector.
// Text ids always equal index ids; identical texts are stored once.
type Collection struct {
	index     *FlatIndex
	texts     []string
	positions map[string]int
}

// NewCollection returns an empty collection for the given dimension.
func NewCollection(dimension int) *Collection {
	return &Collection{
		index:     New(dimension),
		positions: make(map[string]int),
	}
}

// Add stores text with its vector. It returns the existing id and false when the
// text is already present.
func (c *Collection) Add(text string, vector []float32) (int, bool, error) {
	if id, ok := c.positions[text]; ok {
		return id, false, nil
	}
	if err := c.index.Add(vector); err != nil {
		return 0, false, err
	}
	id := len(c.texts)
	c.texts = append(c.texts, text)
	c.positions[text] = id
	return id, true, nil
}

// Contains reports whether text is already stored.
func (c *Collection) Contains(text string) bool {
	_, ok := c.positions[text]
	return ok
}

// Size returns the number of records.
func (c *Collection) Size() int {
	return len(c.texts)
}

// Dimension returns the vector dimension.
func (c *Collection) Dimension() int {
	return c.index.Dimension()
}

// Text returns the source text for id.
func (c *Collection) Text(id int) (string, bool) {
	if id < 0 || id >= len(c.texts) {
		return "", false
	}
	return c.texts[id], true
}

// Texts returns every stored text in id order.
func (c *Collection) Texts() []string {
	return slices.Clone(c.texts)
}

// Record returns the VectorRecord view of id.
func (c *Collection) Record(conversationID string, id int) (types.VectorRecord, bool) {
	vec, ok := c.index.Vector(id)
	if !ok {
		return types.VectorRecord{}, false
	}
	return types.VectorRecord{
		ConversationID: conversationID,
		LocalID:        id,
		Embedding:      vec,
		SourceText:     c.texts[id],
	}, true
}

// Search returns up to k nearest records, closest first.
func (c *Collection) Search(query []float32, k int) []Hit {
	dists, ids := c.index.Search(query, k)
	hits := make([]Hit, 0, len(ids))
	for i, id := range ids {
		hits = append(hits, Hit{ID: id, Text: c.texts[id], Distance: dists[i]})
	}
	return hits
}

// Clone returns a deep copy so writers never mutate a collection readers hold.
func (c *Collection) Clone() *Collection {
	positions := make(map[string]int, len(c.positions))
	for k, v := range c.positions {
		positions[k] = v
	}
	return &Collection{
		index:     c.index.Clone(),
		texts:     slices.Clone(c.texts),
		positions: positions,
	}
}
