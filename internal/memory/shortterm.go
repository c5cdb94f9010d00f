package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/patrickmn/go-cache"

	"github.com/easeaico/petpal/internal/types"
)

// STMState is the synchronization state of a conversation's short-term memory.
type STMState int

const (
	StateEmpty STMState = iota
	StateSyncing
	StateReady
)

func (s STMState) String() string {
	switch s {
	case StateSyncing:
		return "syncing"
	case StateReady:
		return "ready"
	default:
		return "empty"
	}
}

// Lines containing one of these survive the refine pass.
var summaryKeywords = []string{
	"hobby", "like", "love", "favorite", "favourite", "remember", "name", "live", "work", "years old", "mbti",
	"좋아하는", "취미", "기억", "말씀", "곁에 있을게요", "이름", "살아", "직업",
}

// TurnReader reads a conversation log.
type TurnReader interface {
	// ReadOrdered returns turns oldest first, or the newest limit turns
	// newest first when limit > 0.
	ReadOrdered(ctx context.Context, conversationID string, limit int) ([]types.ConversationTurn, error)
}

// ShortTermConfig holds configuration for ShortTermMemory.
type ShortTermConfig struct {
	// BufferSize caps the rolling buffer; the oldest entries are evicted. Default: 10.
	BufferSize int
	// SummaryChars caps the summary length in runes. Default: 500.
	SummaryChars int
	// TTL evicts idle conversations. Default: 30 minutes.
	TTL time.Duration
}

// DefaultShortTermConfig returns a ShortTermConfig with the documented defaults.
func DefaultShortTermConfig() ShortTermConfig {
	return ShortTermConfig{BufferSize: 10, SummaryChars: 500, TTL: 30 * time.Minute}
}

type conversationMemory struct {
	mu      sync.Mutex
	state   STMState
	buffer  []types.Exchange
	summary string
}

// ShortTermMemory keeps a bounded working context per conversation. It is
// never persisted and never fails its callers.
type ShortTermMemory struct {
	turns  TurnReader
	cfg    ShortTermConfig
	logger *slog.Logger

	mu    sync.Mutex
	convs *cache.Cache
}

// NewShortTermMemory returns a ShortTermMemory reading from turns.
func NewShortTermMemory(turns TurnReader, cfg ShortTermConfig, logger *slog.Logger) *ShortTermMemory {
	def := DefaultShortTermConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.SummaryChars <= 0 {
		cfg.SummaryChars = def.SummaryChars
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShortTermMemory{
		turns:  turns,
		cfg:    cfg,
		logger: logger,
		convs:  cache.New(cfg.TTL, cfg.TTL*2),
	}
}

func (m *ShortTermMemory) get(conversationID string) *conversationMemory {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.convs.Get(conversationID); ok {
		cm := v.(*conversationMemory)
		m.convs.Set(conversationID, cm, cache.DefaultExpiration)
		return cm
	}
	cm := &conversationMemory{}
	m.convs.Set(conversationID, cm, cache.DefaultExpiration)
	return cm
}

// SyncFromLog rebuilds the log-derived part of the buffer from the newest turns.
// Synthetic entries from an earlier request are dropped.
func (m *ShortTermMemory) SyncFromLog(ctx context.Context, conversationID string) {
	cm := m.get(conversationID)
	cm.mu.Lock()
	cm.state = StateSyncing
	cm.mu.Unlock()

	var exchanges []types.Exchange
	if m.turns != nil {
		turns, err := m.turns.ReadOrdered(ctx, conversationID, m.cfg.BufferSize*2)
		if err != nil {
			m.logger.Warn("failed to read conversation log for short-term memory",
				"conversation_id", conversationID, "error", err.Error())
		} else {
			slices.Reverse(turns)
			exchanges = pairTurns(turns)
		}
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.buffer = m.bound(exchanges)
}

// SyncFromRetrieval merges retrieved context into the buffer as a synthetic entry
// and marks the conversation ready.
func (m *ShortTermMemory) SyncFromRetrieval(conversationID, query, retrieved string) {
	cm := m.get(conversationID)
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if strings.TrimSpace(retrieved) != "" {
		cm.buffer = m.bound(append(cm.buffer, types.Exchange{Input: query, Output: retrieved, Synthetic: true}))
	}
	cm.state = StateReady
}

// AppendExchange records a completed turn pair and re-summarizes.
func (m *ShortTermMemory) AppendExchange(conversationID, input, output string) {
	cm := m.get(conversationID)
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.buffer = m.bound(append(cm.buffer, types.Exchange{Input: input, Output: output}))

	var b strings.Builder
	b.WriteString(cm.summary)
	if input != "" {
		fmt.Fprintf(&b, "\nuser: %s", input)
	}
	if output != "" {
		fmt.Fprintf(&b, "\npet: %s", output)
	}
	cm.summary = tailRunes(dedupeLines(b.String()), m.cfg.SummaryChars)
	if cm.state == StateEmpty {
		cm.state = StateReady
	}
}

// History returns a copy of the rolling buffer, oldest first.
func (m *ShortTermMemory) History(conversationID string) []types.Exchange {
	cm := m.get(conversationID)
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return slices.Clone(cm.buffer)
}

// Summary returns the refined summary: only keyword lines, capped in length.
func (m *ShortTermMemory) Summary(conversationID string) string {
	return tailRunes(refineSummary(m.RawSummary(conversationID)), m.cfg.SummaryChars)
}

// RawSummary returns the running summary before refinement.
func (m *ShortTermMemory) RawSummary(conversationID string) string {
	cm := m.get(conversationID)
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.summary
}

// State returns the synchronization state of the conversation.
func (m *ShortTermMemory) State(conversationID string) STMState {
	m.mu.Lock()
	v, ok := m.convs.Get(conversationID)
	m.mu.Unlock()
	if !ok {
		return StateEmpty
	}
	cm := v.(*conversationMemory)
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state
}

// Forget drops the conversation's state.
func (m *ShortTermMemory) Forget(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs.Delete(conversationID)
}

func (m *ShortTermMemory) bound(buffer []types.Exchange) []types.Exchange {
	if over := len(buffer) - m.cfg.BufferSize; over > 0 {
		buffer = slices.Clone(buffer[over:])
	}
	return buffer
}

// pairTurns folds chronological turns into exchanges: a user turn followed by
// a character turn becomes one entry.
func pairTurns(turns []types.ConversationTurn) []types.Exchange {
	var out []types.Exchange
	var pending *types.Exchange
	for _, t := range turns {
		switch t.Role {
		case types.RoleUser:
			if pending != nil {
				out = append(out, *pending)
			}
			pending = &types.Exchange{Input: t.Content}
		case types.RoleCharacter:
			if pending != nil {
				pending.Output = t.Content
				out = append(out, *pending)
				pending = nil
			} else {
				out = append(out, types.Exchange{Output: t.Content})
			}
		}
	}
	if pending != nil {
		out = append(out, *pending)
	}
	return out
}

func dedupeLines(text string) string {
	seen := make(map[string]struct{})
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func refineSummary(summary string) string {
	var kept []string
	for _, line := range strings.Split(summary, "\n") {
		lower := strings.ToLower(line)
		for _, kw := range summaryKeywords {
			if strings.Contains(lower, kw) {
				kept = append(kept, line)
				break
			}
		}
	}
	return strings.Join(kept, "\n")
}

// tailRunes keeps the last n runes of s.
func tailRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[len(r)-n:])
}
