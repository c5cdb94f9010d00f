package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"slices"
	"testing"

	"github.com/easeaico/petpal/internal/indexstore"
	"github.com/easeaico/petpal/internal/profile"
	"github.com/easeaico/petpal/internal/types"
)

const testDims = 4

type fakeEmbedder struct {
	vectors     map[string][]float32
	err         error
	docInputs   []string
	queryInputs []string
}

func (f *fakeEmbedder) vector(text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return slices.Clone(v), nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	sum := h.Sum64()
	v := make([]float32, testDims)
	for i := range v {
		v[i] = float32((sum>>(i*16))&0xffff) + 1
	}
	return v, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.queryInputs = append(f.queryInputs, text)
	return f.vector(text)
}

func (f *fakeEmbedder) EmbedDocument(_ context.Context, text string) ([]float32, error) {
	f.docInputs = append(f.docInputs, text)
	return f.vector(text)
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := f.EmbedDocument(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) ModelID() string { return "fake/test" }
func (f *fakeEmbedder) Dimensions() int { return testDims }

var _ Embedder = (*fakeEmbedder)(nil)

type indexEntry struct {
	conversationID string
	localID        int
	turnID         string
}

type fakeTurnStore struct {
	turns       []types.ConversationTurn
	entries     []indexEntry
	replaced    map[string][]string
	deletedMaps []string
	readErr     error
	seq         int64
}

func (f *fakeTurnStore) AppendTurn(_ context.Context, turn *types.ConversationTurn) (string, error) {
	f.seq++
	turn.ID = fmt.Sprintf("turn-%d", f.seq)
	turn.Tiebreak = f.seq
	f.turns = append(f.turns, *turn)
	return turn.ID, nil
}

func (f *fakeTurnStore) ReadOrdered(_ context.Context, conversationID string, limit int) ([]types.ConversationTurn, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	var out []types.ConversationTurn
	for _, t := range f.turns {
		if t.ConversationID == conversationID {
			out = append(out, t)
		}
	}
	if limit > 0 {
		slices.Reverse(out)
		if len(out) > limit {
			out = out[:limit]
		}
	}
	return out, nil
}

func (f *fakeTurnStore) AppendIndexEntry(_ context.Context, conversationID string, localID int, turnID string) error {
	f.entries = append(f.entries, indexEntry{conversationID, localID, turnID})
	return nil
}

func (f *fakeTurnStore) ReplaceIndexMap(_ context.Context, conversationID string, turnIDs []string) error {
	if f.replaced == nil {
		f.replaced = map[string][]string{}
	}
	f.replaced[conversationID] = slices.Clone(turnIDs)
	return nil
}

func (f *fakeTurnStore) DeleteIndexMap(_ context.Context, conversationID string) error {
	f.deletedMaps = append(f.deletedMaps, conversationID)
	return nil
}

var _ TurnStore = (*fakeTurnStore)(nil)

type testHarness struct {
	embedder *fakeEmbedder
	store    *fakeTurnStore
	indexes  *indexstore.Manager
	facts    *profile.Table
	svc      *Service
}

func newHarness(t *testing.T, opts RetrieverOptions) *testHarness {
	t.Helper()
	h := &testHarness{
		embedder: &fakeEmbedder{vectors: map[string][]float32{}},
		store:    &fakeTurnStore{},
		indexes: indexstore.NewManager(indexstore.Options{
			Root:      filepath.Join(t.TempDir(), "index"),
			Model:     "fake/test",
			Dimension: testDims,
		}),
		facts: profile.NewTable(),
	}
	extractor := profile.NewExtractor(h.facts, nil, nil)
	h.svc = NewService(h.embedder, h.indexes, h.store, extractor, opts, nil)
	return h
}
