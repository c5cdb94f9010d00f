package memory

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/easeaico/petpal/internal/types"
)

var testKey = types.ConversationKey{UserID: "user-1", CharacterID: "pet-1"}

func unit(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos)), 0, 0}
}

func record(t *testing.T, h *testHarness, role types.Role, text string) string {
	t.Helper()
	id, err := h.svc.RecordTurnAndUpdateIndex(context.Background(), testKey, types.ConversationTurn{Role: role, Content: text})
	if err != nil {
		t.Fatalf("RecordTurnAndUpdateIndex(%q) returned error: %v", text, err)
	}
	return id
}

func TestRetrieveContextEmptyConversation(t *testing.T) {
	h := newHarness(t, RetrieverOptions{BandFilter: true})

	got, err := h.svc.RetrieveContext(context.Background(), testKey, "do you remember my birthday?")
	if err != nil {
		t.Fatalf("RetrieveContext returned error: %v", err)
	}
	if got != NoHistorySentinel {
		t.Fatalf("expected no-history sentinel, got %q", got)
	}
	if len(h.embedder.queryInputs) != 0 {
		t.Fatalf("expected no embedding call for an empty conversation, got %v", h.embedder.queryInputs)
	}
}

func TestRetrieveContextFastPath(t *testing.T) {
	h := newHarness(t, RetrieverOptions{BandFilter: true})
	record(t, h, types.RoleUser, "my hobby is cycling")

	got, err := h.svc.RetrieveContext(context.Background(), testKey, "what's my hobby?")
	if err != nil {
		t.Fatalf("RetrieveContext returned error: %v", err)
	}
	if !strings.Contains(got, "cycling") {
		t.Fatalf("expected answer mentioning cycling, got %q", got)
	}
	if len(h.embedder.queryInputs) != 0 {
		t.Fatalf("fast path must not embed the query, got %v", h.embedder.queryInputs)
	}
}

func TestRetrieveContextBandFilter(t *testing.T) {
	h := newHarness(t, RetrieverOptions{TopK: 5, MinSimilarity: 0.4, MaxSimilarity: 0.85, BandFilter: true})
	h.embedder.vectors["tell me about the park trip"] = unit(1)
	h.embedder.vectors["we went to the park yesterday"] = unit(0.95)
	h.embedder.vectors["the ducks at the pond were funny"] = unit(0.6)
	h.embedder.vectors["my favourite snack is tuna"] = unit(0.1)

	record(t, h, types.RoleUser, "we went to the park yesterday")
	record(t, h, types.RoleUser, "the ducks at the pond were funny")
	record(t, h, types.RoleUser, "my favourite snack is tuna")

	got, err := h.svc.RetrieveContext(context.Background(), testKey, "tell me about the park trip")
	if err != nil {
		t.Fatalf("RetrieveContext returned error: %v", err)
	}
	if got != "the ducks at the pond were funny" {
		t.Fatalf("expected only the mid-band turn, got %q", got)
	}
}

func TestRetrieveWithoutBandFilterRanksBySimilarity(t *testing.T) {
	h := newHarness(t, RetrieverOptions{TopK: 2})
	h.embedder.vectors["tell me about the park trip"] = unit(1)
	h.embedder.vectors["we went to the park yesterday"] = unit(0.95)
	h.embedder.vectors["the ducks at the pond were funny"] = unit(0.6)
	h.embedder.vectors["my favourite snack is tuna"] = unit(0.1)

	record(t, h, types.RoleUser, "my favourite snack is tuna")
	record(t, h, types.RoleUser, "the ducks at the pond were funny")
	record(t, h, types.RoleUser, "we went to the park yesterday")

	res, err := h.svc.Retrieve(context.Background(), testKey, "tell me about the park trip")
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	if res.Kind != KindHits {
		t.Fatalf("expected hits, got %v", res.Kind)
	}
	want := []string{"we went to the park yesterday", "the ducks at the pond were funny"}
	if strings.Join(res.Texts, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %v, got %v", want, res.Texts)
	}
}

func TestRetrieveExcludesVerbatimQuery(t *testing.T) {
	h := newHarness(t, RetrieverOptions{TopK: 3})
	h.embedder.vectors["what should we eat tonight?"] = unit(1)
	h.embedder.vectors["let's have salmon for dinner"] = unit(0.7)

	record(t, h, types.RoleUser, "let's have salmon for dinner")
	record(t, h, types.RoleUser, "what should we eat tonight?")

	res, err := h.svc.Retrieve(context.Background(), testKey, "  what should   we eat tonight? ")
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	if len(res.Texts) != 1 || res.Texts[0] != "let's have salmon for dinner" {
		t.Fatalf("expected the query itself to be excluded, got %v", res.Texts)
	}
}

func TestRetrieveNoRelated(t *testing.T) {
	h := newHarness(t, RetrieverOptions{BandFilter: true, MinSimilarity: 0.4, MaxSimilarity: 0.85})
	h.embedder.vectors["any plans for the weekend?"] = unit(1)
	h.embedder.vectors["my favourite snack is tuna"] = unit(0.05)
	record(t, h, types.RoleUser, "my favourite snack is tuna")

	got, err := h.svc.RetrieveContext(context.Background(), testKey, "any plans for the weekend?")
	if err != nil {
		t.Fatalf("RetrieveContext returned error: %v", err)
	}
	if got != NoRelatedSentinel {
		t.Fatalf("expected no-related sentinel, got %q", got)
	}
}

func TestRecordTurnDeduplicatesIndex(t *testing.T) {
	h := newHarness(t, RetrieverOptions{})
	first := record(t, h, types.RoleUser, "good morning!")
	record(t, h, types.RoleUser, "good morning!")

	if len(h.store.turns) != 2 {
		t.Fatalf("expected both turns in the log, got %d", len(h.store.turns))
	}
	collection, err := h.indexes.Load(testKey.ID())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if collection.Size() != 1 {
		t.Fatalf("expected one indexed record, got %d", collection.Size())
	}
	if len(h.store.entries) != 1 || h.store.entries[0] != (indexEntry{testKey.ID(), 0, first}) {
		t.Fatalf("unexpected id map entries: %+v", h.store.entries)
	}
	if h.store.turns[0].EmbeddingModel != "fake/test" || len(h.store.turns[0].Embedding) != testDims {
		t.Fatalf("expected the embedding to be stored with the turn: %+v", h.store.turns[0])
	}
	if h.store.turns[0].Sender != testKey.UserID {
		t.Fatalf("expected sender %q, got %q", testKey.UserID, h.store.turns[0].Sender)
	}
}

func TestRecordTurnRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, RetrieverOptions{})
	ctx := context.Background()

	if _, err := h.svc.RecordTurnAndUpdateIndex(ctx, testKey, types.ConversationTurn{Role: types.RoleUser, Content: "   "}); err == nil {
		t.Fatal("expected error for empty content")
	}
	bad := types.ConversationKey{UserID: "../etc", CharacterID: "pet"}
	if _, err := h.svc.RecordTurnAndUpdateIndex(ctx, bad, types.ConversationTurn{Role: types.RoleUser, Content: "hi"}); err == nil {
		t.Fatal("expected error for unsafe conversation id")
	}
	if len(h.store.turns) != 0 {
		t.Fatalf("expected nothing stored, got %d turns", len(h.store.turns))
	}
}

func TestEmbeddingFailure(t *testing.T) {
	h := newHarness(t, RetrieverOptions{})
	record(t, h, types.RoleUser, "I love the beach")

	h.embedder.err = errors.Join(ErrEmbedding, errors.New("quota exceeded"))
	id, err := h.svc.RecordTurnAndUpdateIndex(context.Background(), testKey, types.ConversationTurn{Role: types.RoleUser, Content: "the sand was warm"})
	if !errors.Is(err, ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
	if id == "" || len(h.store.turns) != 2 {
		t.Fatalf("expected the turn to be stored despite the failure, id=%q turns=%d", id, len(h.store.turns))
	}
	collection, _ := h.indexes.Load(testKey.ID())
	if collection.Size() != 1 {
		t.Fatalf("expected the index to be unchanged, got %d records", collection.Size())
	}

	if _, err := h.svc.RetrieveContext(context.Background(), testKey, "where did we go?"); !errors.Is(err, ErrEmbedding) {
		t.Fatalf("expected RetrieveContext to surface ErrEmbedding, got %v", err)
	}
}

func TestDeleteConversationIndex(t *testing.T) {
	h := newHarness(t, RetrieverOptions{})
	record(t, h, types.RoleUser, "remember the red ball")
	path := h.indexes.Path(testKey.ID())
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected index file at %s: %v", path, err)
	}

	ctx := context.Background()
	if err := h.svc.DeleteConversationIndex(ctx, testKey.ID()); err != nil {
		t.Fatalf("DeleteConversationIndex returned error: %v", err)
	}
	if err := h.svc.DeleteConversationIndex(ctx, testKey.ID()); err != nil {
		t.Fatalf("second DeleteConversationIndex returned error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected index file to be gone, stat err=%v", err)
	}
	if len(h.store.deletedMaps) != 2 {
		t.Fatalf("expected id map deletes, got %v", h.store.deletedMaps)
	}

	got, err := h.svc.RetrieveContext(ctx, testKey, "what about the ball?")
	if err != nil || got != NoHistorySentinel {
		t.Fatalf("expected no-history after delete, got %q err=%v", got, err)
	}
}

func TestRebuildIndexReusesStoredEmbeddings(t *testing.T) {
	h := newHarness(t, RetrieverOptions{})
	record(t, h, types.RoleUser, "let's go for a walk")
	record(t, h, types.RoleCharacter, "Yay, a walk!")
	record(t, h, types.RoleUser, "let's go for a walk")
	h.store.turns = append(h.store.turns, types.ConversationTurn{
		ID: "legacy", ConversationID: testKey.ID(), Role: types.RoleUser, Content: "an old turn without embedding",
	})
	h.embedder.docInputs = nil

	n, err := h.svc.RebuildIndex(context.Background(), testKey.ID())
	if err != nil {
		t.Fatalf("RebuildIndex returned error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 records, got %d", n)
	}
	if len(h.embedder.docInputs) != 1 || h.embedder.docInputs[0] != "an old turn without embedding" {
		t.Fatalf("expected only the legacy turn to be embedded, got %v", h.embedder.docInputs)
	}
	ids := h.store.replaced[testKey.ID()]
	if len(ids) != 3 || ids[0] != "turn-1" || ids[1] != "turn-2" || ids[2] != "legacy" {
		t.Fatalf("unexpected rebuilt id map: %v", ids)
	}
}

func TestRebuildIndexEmptyLogDeletes(t *testing.T) {
	h := newHarness(t, RetrieverOptions{})
	n, err := h.svc.RebuildIndex(context.Background(), testKey.ID())
	if err != nil || n != 0 {
		t.Fatalf("expected empty rebuild, got n=%d err=%v", n, err)
	}
	if len(h.store.deletedMaps) != 1 {
		t.Fatalf("expected the id map to be cleared, got %v", h.store.deletedMaps)
	}
}

func TestRecordSystemTurnIsNotIndexed(t *testing.T) {
	h := newHarness(t, RetrieverOptions{})
	record(t, h, types.RoleUser, "I love the beach")
	h.embedder.docInputs = nil

	id := record(t, h, types.RoleSystem, "the conversation was summarized")
	if id == "" || len(h.store.turns) != 2 {
		t.Fatalf("expected the system turn in the log, id=%q turns=%d", id, len(h.store.turns))
	}
	if len(h.embedder.docInputs) != 0 {
		t.Fatalf("system turns must not be embedded, got %v", h.embedder.docInputs)
	}
	collection, err := h.indexes.Load(testKey.ID())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if collection.Size() != 1 || collection.Contains("the conversation was summarized") {
		t.Fatalf("expected only the user turn indexed, got %v", collection.Texts())
	}
	if len(h.store.entries) != 1 {
		t.Fatalf("expected one id map entry, got %+v", h.store.entries)
	}

	n, err := h.svc.RebuildIndex(context.Background(), testKey.ID())
	if err != nil || n != 1 {
		t.Fatalf("expected rebuild to agree with incremental indexing, n=%d err=%v", n, err)
	}
}

func TestAppendTurnThenRetrieveBeforeIndexing(t *testing.T) {
	h := newHarness(t, RetrieverOptions{})
	ctx := context.Background()

	turn, err := h.svc.AppendTurn(ctx, testKey, types.ConversationTurn{Role: types.RoleUser, Content: "hello there"})
	if err != nil {
		t.Fatalf("AppendTurn returned error: %v", err)
	}
	got, err := h.svc.RetrieveContext(ctx, testKey, "hello there")
	if err != nil {
		t.Fatalf("RetrieveContext returned error: %v", err)
	}
	if got != NoHistorySentinel {
		t.Fatalf("expected no-history for the first message, got %q", got)
	}

	if err := h.svc.IndexTurn(ctx, turn); err != nil {
		t.Fatalf("IndexTurn returned error: %v", err)
	}
	collection, err := h.indexes.Load(testKey.ID())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if collection.Size() != 1 || !collection.Contains("hello there") {
		t.Fatalf("expected the turn indexed after retrieval, got %v", collection.Texts())
	}
}

func TestRetrieveContextFastPathTypographicApostrophe(t *testing.T) {
	h := newHarness(t, RetrieverOptions{BandFilter: true})
	record(t, h, types.RoleUser, "my hobby is cycling")

	got, err := h.svc.RetrieveContext(context.Background(), testKey, "what’s my hobby?")
	if err != nil {
		t.Fatalf("RetrieveContext returned error: %v", err)
	}
	if !strings.Contains(got, "cycling") {
		t.Fatalf("expected answer mentioning cycling, got %q", got)
	}
	if len(h.embedder.queryInputs) != 0 {
		t.Fatalf("fast path must not embed the query, got %v", h.embedder.queryInputs)
	}
}

func TestNormalizeQuery(t *testing.T) {
	tests := []struct{ in, want string }{
		{in: "  what’s   my hobby? ", want: "what's my hobby?"},
		{in: "‘walk’ ”now“", want: `'walk' "now"`},
		{in: "ＭＢＴＩ", want: "MBTI"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		if got := NormalizeQuery(tt.in); got != tt.want {
			t.Errorf("NormalizeQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
