package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/easeaico/petpal/internal/types"
)

const stmConv = "user-1-pet-1"

func seedTurns(store *fakeTurnStore, turns ...types.ConversationTurn) {
	for i := range turns {
		turns[i].ConversationID = stmConv
		_, _ = store.AppendTurn(context.Background(), &turns[i])
	}
}

func TestSyncFromLogPairsTurns(t *testing.T) {
	store := &fakeTurnStore{}
	seedTurns(store,
		types.ConversationTurn{Role: types.RoleUser, Content: "hi"},
		types.ConversationTurn{Role: types.RoleCharacter, Content: "meow!"},
		types.ConversationTurn{Role: types.RoleUser, Content: "hungry?"},
		types.ConversationTurn{Role: types.RoleCharacter, Content: "always"},
		types.ConversationTurn{Role: types.RoleUser, Content: "ok"},
	)
	stm := NewShortTermMemory(store, ShortTermConfig{}, nil)

	if got := stm.State(stmConv); got != StateEmpty {
		t.Fatalf("expected empty state, got %v", got)
	}
	stm.SyncFromLog(context.Background(), stmConv)
	if got := stm.State(stmConv); got != StateSyncing {
		t.Fatalf("expected syncing state, got %v", got)
	}

	history := stm.History(stmConv)
	want := []types.Exchange{
		{Input: "hi", Output: "meow!"},
		{Input: "hungry?", Output: "always"},
		{Input: "ok"},
	}
	if len(history) != len(want) {
		t.Fatalf("expected %d exchanges, got %+v", len(want), history)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Fatalf("exchange %d: expected %+v, got %+v", i, want[i], history[i])
		}
	}

	stm.SyncFromRetrieval(stmConv, "hungry?", "")
	if got := stm.State(stmConv); got != StateReady {
		t.Fatalf("expected ready state, got %v", got)
	}
}

func TestSyncFromLogReplacesSyntheticEntries(t *testing.T) {
	store := &fakeTurnStore{}
	seedTurns(store, types.ConversationTurn{Role: types.RoleUser, Content: "hello"})
	stm := NewShortTermMemory(store, ShortTermConfig{}, nil)
	ctx := context.Background()

	stm.SyncFromLog(ctx, stmConv)
	stm.SyncFromRetrieval(stmConv, "hello", "we met at the park")
	if h := stm.History(stmConv); len(h) != 2 || !h[1].Synthetic {
		t.Fatalf("expected a synthetic entry, got %+v", h)
	}

	stm.SyncFromLog(ctx, stmConv)
	if h := stm.History(stmConv); len(h) != 1 || h[0].Synthetic {
		t.Fatalf("expected synthetic entry to be dropped on resync, got %+v", h)
	}
}

func TestSyncFromLogReadFailure(t *testing.T) {
	store := &fakeTurnStore{readErr: errors.New("connection refused")}
	stm := NewShortTermMemory(store, ShortTermConfig{}, nil)

	stm.SyncFromLog(context.Background(), stmConv)
	if h := stm.History(stmConv); len(h) != 0 {
		t.Fatalf("expected empty history, got %+v", h)
	}
}

func TestAppendExchangeEvictsOldest(t *testing.T) {
	stm := NewShortTermMemory(nil, ShortTermConfig{BufferSize: 3}, nil)
	for _, in := range []string{"a", "b", "c", "d", "e"} {
		stm.AppendExchange(stmConv, in, "ok")
	}

	history := stm.History(stmConv)
	if len(history) != 3 || history[0].Input != "c" || history[2].Input != "e" {
		t.Fatalf("expected the newest three exchanges, got %+v", history)
	}
	if got := stm.State(stmConv); got != StateReady {
		t.Fatalf("expected ready state, got %v", got)
	}
}

func TestSummaryDedupeAndRefine(t *testing.T) {
	stm := NewShortTermMemory(nil, ShortTermConfig{}, nil)
	stm.AppendExchange(stmConv, "I like tuna", "Me too!")
	stm.AppendExchange(stmConv, "I like tuna", "Me too!")
	stm.AppendExchange(stmConv, "ok", "Purr")

	raw := stm.RawSummary(stmConv)
	if raw != "user: I like tuna\npet: Me too!\nuser: ok\npet: Purr" {
		t.Fatalf("unexpected raw summary: %q", raw)
	}
	if got := stm.Summary(stmConv); got != "user: I like tuna" {
		t.Fatalf("expected only keyword lines, got %q", got)
	}
}

func TestSummaryIsBounded(t *testing.T) {
	stm := NewShortTermMemory(nil, ShortTermConfig{SummaryChars: 500}, nil)
	for i := 0; i < 20; i++ {
		stm.AppendExchange(stmConv, strings.Repeat("가", 40)+string(rune('a'+i)), "")
	}

	raw := stm.RawSummary(stmConv)
	if n := utf8.RuneCountInString(raw); n > 500 {
		t.Fatalf("expected at most 500 runes, got %d", n)
	}
	if !strings.HasSuffix(raw, "t") {
		t.Fatalf("expected the newest content to be kept, got tail %q", raw[len(raw)-10:])
	}
}

func TestForgetAndTTL(t *testing.T) {
	stm := NewShortTermMemory(nil, ShortTermConfig{TTL: 50 * time.Millisecond}, nil)
	stm.AppendExchange(stmConv, "hi", "hello")
	stm.Forget(stmConv)
	if got := stm.State(stmConv); got != StateEmpty {
		t.Fatalf("expected empty state after Forget, got %v", got)
	}

	stm.AppendExchange(stmConv, "hi", "hello")
	time.Sleep(80 * time.Millisecond)
	if got := stm.State(stmConv); got != StateEmpty {
		t.Fatalf("expected idle conversation to expire, got %v", got)
	}
}
