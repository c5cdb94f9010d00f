package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	adkmemory "google.golang.org/adk/memory"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"github.com/easeaico/petpal/internal/types"
	"github.com/easeaico/petpal/internal/utils"
)

// Authors used on ADK memory entries.
const (
	AuthorMemory  = "memory"
	AuthorProfile = "profile"
	AuthorSystem  = "system"
)

// StateCharacterID is the session state key holding the character id.
const StateCharacterID = "character_id"

type adkService struct {
	memory      *Service
	shortTerm   *ShortTermMemory
	characterID string
}

// NewADKService exposes the memory core as an ADK memory.Service for one
// character. shortTerm may be nil.
func NewADKService(memory *Service, shortTerm *ShortTermMemory, characterID string) adkmemory.Service {
	return &adkService{memory: memory, shortTerm: shortTerm, characterID: characterID}
}

func (s *adkService) key(userID string, state session.State) types.ConversationKey {
	characterID := s.characterID
	if state != nil {
		if v, err := state.Get(StateCharacterID); err == nil {
			if id, ok := v.(string); ok && id != "" {
				characterID = id
			}
		}
	}
	return types.ConversationKey{UserID: userID, CharacterID: characterID}
}

// AddSession records the latest user message and the reply that follows it.
func (s *adkService) AddSession(ctx context.Context, sess session.Session) error {
	key := s.key(sess.UserID(), sess.State())
	input, output := lastExchange(sess.Events())
	if input == "" && output == "" {
		return nil
	}

	var errs []error
	if input != "" {
		if _, err := s.memory.RecordTurnAndUpdateIndex(ctx, key, types.ConversationTurn{Role: types.RoleUser, Content: input}); err != nil {
			errs = append(errs, fmt.Errorf("failed to record user turn: %w", err))
		}
	}
	if output != "" {
		if _, err := s.memory.RecordTurnAndUpdateIndex(ctx, key, types.ConversationTurn{Role: types.RoleCharacter, Content: output}); err != nil {
			errs = append(errs, fmt.Errorf("failed to record reply turn: %w", err))
		}
	}
	if s.shortTerm != nil {
		s.shortTerm.AppendExchange(key.ID(), input, output)
	}
	return errors.Join(errs...)
}

// Search retrieves grounding for req.Query. Sentinel outcomes are returned as
// a single system entry.
func (s *adkService) Search(ctx context.Context, req *adkmemory.SearchRequest) (*adkmemory.SearchResponse, error) {
	if req == nil || strings.TrimSpace(req.Query) == "" {
		return &adkmemory.SearchResponse{Memories: nil}, nil
	}

	key := s.key(req.UserID, nil)
	res, err := s.memory.Retrieve(ctx, key, req.Query)
	if err != nil {
		return nil, err
	}
	if s.shortTerm != nil && res.Kind == KindHits {
		s.shortTerm.SyncFromRetrieval(key.ID(), req.Query, strings.Join(res.Texts, "\n"))
	}
	return &adkmemory.SearchResponse{Memories: ToMemoryEntries(res, time.Now())}, nil
}

// ToMemoryEntries converts a retrieval into ADK memory entries.
func ToMemoryEntries(res Retrieval, now time.Time) []adkmemory.Entry {
	entry := func(text, author string) adkmemory.Entry {
		return adkmemory.Entry{
			Content:   genai.NewContentFromText(text, genai.RoleModel),
			Author:    author,
			Timestamp: now,
		}
	}
	switch res.Kind {
	case KindHits:
		results := make([]adkmemory.Entry, 0, len(res.Texts))
		for _, text := range res.Texts {
			results = append(results, entry(text, AuthorMemory))
		}
		return results
	case KindFastPath:
		return []adkmemory.Entry{entry(res.Answer, AuthorProfile)}
	case KindNoHistory:
		return []adkmemory.Entry{entry(NoHistorySentinel, AuthorSystem)}
	default:
		return []adkmemory.Entry{entry(NoRelatedSentinel, AuthorSystem)}
	}
}

// lastExchange finds the newest user message and the first reply after it.
func lastExchange(events session.Events) (string, string) {
	if events == nil {
		return "", ""
	}
	userIdx := -1
	for i := events.Len() - 1; i >= 0; i-- {
		evt := events.At(i)
		if evt != nil && evt.Content != nil && evt.Content.Role == string(genai.RoleUser) && contentText(evt.Content) != "" {
			userIdx = i
			break
		}
	}

	var input, output string
	start := 0
	if userIdx >= 0 {
		input = contentText(events.At(userIdx).Content)
		start = userIdx + 1
	}
	for i := start; i < events.Len(); i++ {
		evt := events.At(i)
		if evt == nil || evt.Content == nil || evt.Content.Role == string(genai.RoleUser) {
			continue
		}
		if text := contentText(evt.Content); text != "" {
			output = text
			break
		}
	}
	return input, output
}

func contentText(content *genai.Content) string {
	return strings.TrimSpace(utils.ExtractContentText(content))
}
