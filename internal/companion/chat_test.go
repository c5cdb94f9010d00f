package companion

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/easeaico/petpal/internal/indexstore"
	"github.com/easeaico/petpal/internal/memory"
	"github.com/easeaico/petpal/internal/profile"
	"github.com/easeaico/petpal/internal/prompt"
	"github.com/easeaico/petpal/internal/storage"
	"github.com/easeaico/petpal/internal/types"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) vector(text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	sum := h.Sum64()
	return []float32{float32(sum & 0xffff), float32((sum >> 16) & 0xffff), float32((sum >> 32) & 0xffff), 1}, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return f.vector(text)
}

func (f *fakeEmbedder) EmbedDocument(_ context.Context, text string) ([]float32, error) {
	return f.vector(text)
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, err := f.vector(text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeEmbedder) ModelID() string { return "fake/test" }
func (f *fakeEmbedder) Dimensions() int { return 4 }

type fakeLog struct {
	turns []types.ConversationTurn
	seq   int64
}

func (f *fakeLog) AppendTurn(_ context.Context, turn *types.ConversationTurn) (string, error) {
	f.seq++
	turn.ID = fmt.Sprintf("turn-%d", f.seq)
	turn.Tiebreak = f.seq
	f.turns = append(f.turns, *turn)
	return turn.ID, nil
}

func (f *fakeLog) ReadOrdered(_ context.Context, conversationID string, limit int) ([]types.ConversationTurn, error) {
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

func (f *fakeLog) DeleteConversation(_ context.Context, conversationID string) (int64, error) {
	kept := f.turns[:0]
	var n int64
	for _, t := range f.turns {
		if t.ConversationID == conversationID {
			n++
			continue
		}
		kept = append(kept, t)
	}
	f.turns = kept
	return n, nil
}

func (f *fakeLog) AppendIndexEntry(context.Context, string, int, string) error { return nil }
func (f *fakeLog) ReplaceIndexMap(context.Context, string, []string) error    { return nil }
func (f *fakeLog) DeleteIndexMap(context.Context, string) error               { return nil }

var _ memory.TurnStore = (*fakeLog)(nil)
var _ TurnLog = (*fakeLog)(nil)

type fakeCharacters struct {
	byID map[string]*types.Character
}

func (f *fakeCharacters) GetByID(_ context.Context, id string) (*types.Character, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("failed to get character by id: %w", storage.ErrNotFound)
	}
	copied := *c
	return &copied, nil
}

func (f *fakeCharacters) UpdateLastMessage(_ context.Context, id, message string) error {
	c, ok := f.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.LastMessage = message
	return nil
}

func (f *fakeCharacters) Delete(_ context.Context, id string) error {
	delete(f.byID, id)
	return nil
}

type fakeGenerator struct {
	reply   string
	err     error
	systems []string
	users   []string
}

func (f *fakeGenerator) Generate(_ context.Context, system, user string) (string, error) {
	f.systems = append(f.systems, system)
	f.users = append(f.users, user)
	return f.reply, f.err
}

type harness struct {
	chat       *Chat
	log        *fakeLog
	characters *fakeCharacters
	generator  *fakeGenerator
	embedder   *fakeEmbedder
	indexes    *indexstore.Manager
	facts      *profile.Table
	shortTerm  *memory.ShortTermMemory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		log: &fakeLog{},
		characters: &fakeCharacters{byID: map[string]*types.Character{
			"pet-1": {ID: "pet-1", UserID: "user-1", Nickname: "콩이", AnimalType: "강아지", Personality: "energetic"},
		}},
		generator: &fakeGenerator{reply: "안녕하세요!  멍멍!   산책 좋아!"},
		embedder:  &fakeEmbedder{},
		indexes: indexstore.NewManager(indexstore.Options{
			Root:      filepath.Join(t.TempDir(), "index"),
			Model:     "fake/test",
			Dimension: 4,
		}),
		facts: profile.NewTable(),
	}
	extractor := profile.NewExtractor(h.facts, nil, nil)
	svc := memory.NewService(h.embedder, h.indexes, h.log, extractor, memory.RetrieverOptions{BandFilter: true}, nil)
	h.shortTerm = memory.NewShortTermMemory(h.log, memory.ShortTermConfig{}, nil)
	h.chat = NewChat(Options{
		Characters: h.characters,
		Turns:      h.log,
		Memory:     svc,
		ShortTerm:  h.shortTerm,
		Extractor:  extractor,
		Prompts:    prompt.NewBuilder(10),
		Generator:  h.generator,
	})
	return h
}

func TestReply(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reply, err := h.chat.Reply(ctx, "user-1", "pet-1", "  산책 갈래?  ")
	if err != nil {
		t.Fatalf("Reply returned error: %v", err)
	}
	if reply != "멍멍! 산책 좋아!" {
		t.Fatalf("expected cleaned reply, got %q", reply)
	}
	if len(h.log.turns) != 2 {
		t.Fatalf("expected user and reply turns, got %d", len(h.log.turns))
	}
	if h.log.turns[0].Role != types.RoleUser || h.log.turns[1].Role != types.RoleCharacter || h.log.turns[1].Content != reply {
		t.Fatalf("unexpected turns: %+v", h.log.turns)
	}
	if got := h.characters.byID["pet-1"].LastMessage; got != reply {
		t.Fatalf("expected last message to be updated, got %q", got)
	}
	if h.generator.users[0] != "산책 갈래?" {
		t.Fatalf("unexpected user prompt %q", h.generator.users[0])
	}
	if !strings.Contains(h.generator.systems[0], memory.NoHistorySentinel) {
		t.Fatalf("expected the no-history sentinel for a fresh conversation:\n%s", h.generator.systems[0])
	}
	indexed, err := h.indexes.Load("user-1-pet-1")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if indexed.Size() != 2 || !indexed.Contains("산책 갈래?") || !indexed.Contains(reply) {
		t.Fatalf("expected both turns to be indexed after the reply, got %v", indexed.Texts())
	}
	if strings.Contains(h.generator.systems[0], "최근 대화**") {
		t.Fatalf("expected no history section for the first message:\n%s", h.generator.systems[0])
	}
	history := h.shortTerm.History("user-1-pet-1")
	if len(history) == 0 || history[len(history)-1] != (types.Exchange{Input: "산책 갈래?", Output: reply}) {
		t.Fatalf("expected the exchange in short-term memory, got %+v", history)
	}
	if fact, ok := h.facts.Get("pet-1", types.AttributeIdentity); !ok || !strings.HasPrefix(fact.Value, "콩이") {
		t.Fatalf("expected the character to be seeded, got %+v", fact)
	}
}

func TestReplyUsesProfileFastPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.chat.Reply(ctx, "user-1", "pet-1", "my hobby is cycling"); err != nil {
		t.Fatalf("Reply returned error: %v", err)
	}
	if _, err := h.chat.Reply(ctx, "user-1", "pet-1", "what's my hobby?"); err != nil {
		t.Fatalf("Reply returned error: %v", err)
	}
	last := h.generator.systems[len(h.generator.systems)-1]
	if !strings.Contains(last, "cycling") {
		t.Fatalf("expected the hobby in the prompt:\n%s", last)
	}
}

func TestReplyErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.chat.Reply(ctx, "user-1", "pet-1", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := h.chat.Reply(ctx, "user-2", "pet-1", "hi"); !errors.Is(err, ErrCharacterNotFound) {
		t.Fatalf("expected ErrCharacterNotFound for another user's pet, got %v", err)
	}
	if _, err := h.chat.Reply(ctx, "user-1", "pet-9", "hi"); !errors.Is(err, ErrCharacterNotFound) {
		t.Fatalf("expected ErrCharacterNotFound, got %v", err)
	}

	boom := errors.New("model overloaded")
	h.generator.err = boom
	if _, err := h.chat.Reply(ctx, "user-1", "pet-1", "hi"); !errors.Is(err, boom) {
		t.Fatalf("expected generation error, got %v", err)
	}
	if len(h.log.turns) != 1 {
		t.Fatalf("expected the user turn to be kept, got %d turns", len(h.log.turns))
	}
}

func TestReplySurvivesEmbeddingOutage(t *testing.T) {
	h := newHarness(t)
	h.embedder.err = fmt.Errorf("%w: connection refused", memory.ErrEmbedding)

	reply, err := h.chat.Reply(context.Background(), "user-1", "pet-1", "산책 갈래?")
	if err != nil {
		t.Fatalf("Reply returned error: %v", err)
	}
	if reply == "" || len(h.log.turns) != 2 {
		t.Fatalf("expected a reply and both turns, got %q with %d turns", reply, len(h.log.turns))
	}
}

func TestReplyEmptyGeneration(t *testing.T) {
	h := newHarness(t)
	h.generator.reply = "안녕하세요!"

	reply, err := h.chat.Reply(context.Background(), "user-1", "pet-1", "hi")
	if err != nil {
		t.Fatalf("Reply returned error: %v", err)
	}
	if reply != memory.ForgotSentinel {
		t.Fatalf("expected fallback reply, got %q", reply)
	}
}

func TestDeleteCharacter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.chat.Reply(ctx, "user-1", "pet-1", "my hobby is cycling"); err != nil {
		t.Fatalf("Reply returned error: %v", err)
	}
	path := h.indexes.Path("user-1-pet-1")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected index file: %v", err)
	}

	if err := h.chat.DeleteCharacter(ctx, "user-2", "pet-1"); !errors.Is(err, ErrCharacterNotFound) {
		t.Fatalf("expected ErrCharacterNotFound for another user, got %v", err)
	}
	if err := h.chat.DeleteCharacter(ctx, "user-1", "pet-1"); err != nil {
		t.Fatalf("DeleteCharacter returned error: %v", err)
	}

	if len(h.log.turns) != 0 {
		t.Fatalf("expected turns to be deleted, got %d", len(h.log.turns))
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected index file to be removed, stat err=%v", err)
	}
	if _, ok := h.characters.byID["pet-1"]; ok {
		t.Fatal("expected character row to be deleted")
	}
	if _, ok := h.facts.Get("pet-1", types.AttributeIdentity); ok {
		t.Fatal("expected character facts to be forgotten")
	}
	if _, ok := h.facts.Get("user-1", types.AttributeHobby); !ok {
		t.Fatal("expected user facts to survive")
	}
	if got := h.shortTerm.State("user-1-pet-1"); got != memory.StateEmpty {
		t.Fatalf("expected short-term memory to be dropped, got %v", got)
	}
}

func TestClearConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.chat.Reply(ctx, "user-1", "pet-1", "산책 갈래?"); err != nil {
		t.Fatalf("Reply returned error: %v", err)
	}

	if err := h.chat.ClearConversation(ctx, "user-1", "pet-1"); err != nil {
		t.Fatalf("ClearConversation returned error: %v", err)
	}
	if len(h.log.turns) != 0 {
		t.Fatalf("expected turns to be deleted, got %d", len(h.log.turns))
	}
	if _, ok := h.characters.byID["pet-1"]; !ok {
		t.Fatal("expected the character to be kept")
	}
	c, err := h.indexes.Load("user-1-pet-1")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.Size() != 0 {
		t.Fatalf("expected an empty index, got size=%d", c.Size())
	}
}

func TestHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = h.log.AppendTurn(ctx, &types.ConversationTurn{ConversationID: "user-1-pet-1", Role: types.RoleUser, Content: "Walk?"})
	}
	_, _ = h.log.AppendTurn(ctx, &types.ConversationTurn{ConversationID: "user-1-pet-1", Role: types.RoleCharacter, Content: "멍!"})

	turns, err := h.chat.History(ctx, "user-1", "pet-1", 10)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(turns) != 7 {
		t.Fatalf("expected 6 turns and a note, got %d", len(turns))
	}
	if turns[0].ID != "turn-1" || turns[5].Content != "멍!" {
		t.Fatalf("expected chronological order, got %+v", turns)
	}
	if note := turns[6]; note.Role != types.RoleSystem || !strings.Contains(note.Content, "'walk?'라는 질문을 5번") {
		t.Fatalf("unexpected note: %+v", note)
	}

	turns, err = h.chat.History(ctx, "user-1", "pet-1", 3)
	if err != nil || len(turns) != 3 || turns[2].Content != "멍!" {
		t.Fatalf("expected the newest 3 turns, got %+v err=%v", turns, err)
	}
}

func TestRepeatedQuestions(t *testing.T) {
	var turns []types.ConversationTurn
	for i := 0; i < 4; i++ {
		turns = append(turns, types.ConversationTurn{Role: types.RoleUser, Content: "hi"})
	}
	if got := RepeatedQuestions(turns, 5); got != "" {
		t.Fatalf("expected no note below the threshold, got %q", got)
	}
	turns = append(turns,
		types.ConversationTurn{Role: types.RoleUser, Content: " HI "},
		types.ConversationTurn{Role: types.RoleCharacter, Content: "hi"},
	)
	if got := RepeatedQuestions(turns, 5); got != "사용자가 'hi'라는 질문을 5번 했어요." {
		t.Fatalf("unexpected note %q", got)
	}
}

func TestWithoutPending(t *testing.T) {
	history := []types.Exchange{
		{Input: "a", Output: "b"},
		{Input: "walk?"},
		{Input: "walk?", Output: "we walked yesterday", Synthetic: true},
	}
	got := withoutPending(history, "walk?")
	if len(got) != 2 || got[0].Input != "a" || !got[1].Synthetic {
		t.Fatalf("unexpected history: %+v", got)
	}
	if len(history) != 3 || history[1].Input != "walk?" {
		t.Fatalf("input slice must not be modified: %+v", history)
	}
}
