package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/easeaico/petpal/internal/indexstore"
	"github.com/easeaico/petpal/internal/profile"
	"github.com/easeaico/petpal/internal/types"
	"github.com/easeaico/petpal/internal/vectorindex"
)

// Texts returned by RetrieveContext when there is nothing to ground on.
const (
	NoHistorySentinel = "Hmm... I don't think you've asked me this before!"
	NoRelatedSentinel = "I can't find anything like that in our past chats."
	ForgotSentinel    = "I don't seem to remember that. Tell me again!"
)

// TurnStore is the durable conversation log plus its index id-map sidecar.
type TurnStore interface {
	TurnReader
	// AppendTurn assigns id and ordering fields and stores the turn.
	AppendTurn(ctx context.Context, turn *types.ConversationTurn) (string, error)
	AppendIndexEntry(ctx context.Context, conversationID string, localID int, turnID string) error
	ReplaceIndexMap(ctx context.Context, conversationID string, turnIDs []string) error
	DeleteIndexMap(ctx context.Context, conversationID string) error
}

// IndexStore persists per-conversation collections under a single-writer lock.
type IndexStore interface {
	IndexSource
	Persist(conversationID string, c *vectorindex.Collection) error
	Delete(conversationID string) error
	WithLock(conversationID string, fn func() error) error
}

// Service is the memory core used by the request-handling layer.
type Service struct {
	embedder  Embedder
	indexes   IndexStore
	turns     TurnStore
	retriever *Retriever
	extractor *profile.Extractor
	logger    *slog.Logger
}

// NewService wires the memory core. extractor may be nil.
func NewService(embedder Embedder, indexes IndexStore, turns TurnStore, extractor *profile.Extractor, opts RetrieverOptions, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	var facts *profile.Table
	if extractor != nil {
		facts = extractor.Table()
	}
	return &Service{
		embedder:  embedder,
		indexes:   indexes,
		turns:     turns,
		retriever: NewRetriever(embedder, indexes, facts, opts),
		extractor: extractor,
		logger:    logger,
	}
}

// Retrieve returns the structured retrieval result.
func (s *Service) Retrieve(ctx context.Context, key types.ConversationKey, query string) (Retrieval, error) {
	return s.retriever.Retrieve(ctx, key, query)
}

// RetrieveContext returns grounding text for query: matching turns joined by
// newlines, a direct profile answer, or a sentinel. Only embedding failures are
// returned as errors.
func (s *Service) RetrieveContext(ctx context.Context, key types.ConversationKey, query string) (string, error) {
	res, err := s.retriever.Retrieve(ctx, key, query)
	if err != nil {
		if errors.Is(err, ErrEmbedding) {
			return "", err
		}
		s.logger.Warn("failed to retrieve context", "conversation_id", key.ID(), "error", err.Error())
		return NoHistorySentinel, nil
	}
	switch res.Kind {
	case KindFastPath:
		return res.Answer, nil
	case KindHits:
		return strings.Join(res.Texts, "\n"), nil
	case KindNoHistory:
		return NoHistorySentinel, nil
	default:
		return NoRelatedSentinel, nil
	}
}

// RecordTurnAndUpdateIndex extracts profile facts from the turn, appends it to
// the log and adds it to the conversation's index. It returns the turn id.
// When embedding fails the turn is still stored and the error wraps ErrEmbedding.
func (s *Service) RecordTurnAndUpdateIndex(ctx context.Context, key types.ConversationKey, turn types.ConversationTurn) (string, error) {
	stored, err := s.AppendTurn(ctx, key, turn)
	if err != nil {
		return stored.ID, err
	}
	if err := s.IndexTurn(ctx, stored); err != nil {
		s.logger.Warn("failed to update conversation index", "conversation_id", stored.ConversationID, "turn_id", stored.ID, "error", err.Error())
	}
	return stored.ID, nil
}

// AppendTurn extracts profile facts from the turn, embeds it and appends it to
// the log without touching the index. The stored turn carries its id and
// embedding for a later IndexTurn. When embedding fails the turn is still
// stored, returned without an embedding, and the error wraps ErrEmbedding.
func (s *Service) AppendTurn(ctx context.Context, key types.ConversationKey, turn types.ConversationTurn) (types.ConversationTurn, error) {
	conversationID := key.ID()
	if err := indexstore.ValidateConversationID(conversationID); err != nil {
		return types.ConversationTurn{}, err
	}
	turn.ConversationID = conversationID
	turn.Content = strings.TrimSpace(turn.Content)
	if turn.Content == "" {
		return types.ConversationTurn{}, fmt.Errorf("turn content cannot be empty")
	}
	if turn.Sender == "" {
		turn.Sender = senderFor(key, turn.Role)
	}
	turn.Embedding, turn.EmbeddingModel = nil, ""

	if turn.Role == types.RoleSystem {
		if _, err := s.turns.AppendTurn(ctx, &turn); err != nil {
			return types.ConversationTurn{}, fmt.Errorf("failed to append turn: %w", err)
		}
		return turn, nil
	}

	if s.extractor != nil {
		s.extractor.Observe(ctx, turn.Sender, turn.Content)
	}

	vec, embedErr := s.embedder.EmbedDocument(ctx, turn.Content)
	if embedErr == nil {
		turn.Embedding = vec
		turn.EmbeddingModel = s.embedder.ModelID()
	}

	if _, err := s.turns.AppendTurn(ctx, &turn); err != nil {
		return types.ConversationTurn{}, fmt.Errorf("failed to append turn: %w", err)
	}
	if embedErr != nil {
		s.logger.Warn("turn stored without embedding", "conversation_id", conversationID, "turn_id", turn.ID, "error", embedErr.Error())
		return turn, embedErr
	}
	return turn, nil
}

// IndexTurn adds a stored turn to its conversation's index and id map. System
// turns and turns without an embedding are skipped, matching RebuildIndex.
func (s *Service) IndexTurn(ctx context.Context, turn types.ConversationTurn) error {
	if turn.Role == types.RoleSystem || len(turn.Embedding) == 0 || turn.ID == "" {
		return nil
	}
	return s.indexTurn(ctx, turn.ConversationID, turn.ID, turn.Content, turn.Embedding)
}

func (s *Service) indexTurn(ctx context.Context, conversationID, turnID, text string, vec []float32) error {
	return s.indexes.WithLock(conversationID, func() error {
		current, err := s.indexes.Load(conversationID)
		if err != nil {
			return err
		}
		if current.Contains(text) {
			return nil
		}
		next := current.Clone()
		localID, _, err := next.Add(text, vectorindex.NormalizeL2(vec))
		if err != nil {
			return err
		}
		if err := s.indexes.Persist(conversationID, next); err != nil {
			return err
		}
		if err := s.turns.AppendIndexEntry(ctx, conversationID, localID, turnID); err != nil {
			return fmt.Errorf("failed to record index id map: %w", err)
		}
		return nil
	})
}

// DeleteConversationIndex removes the conversation's index file, registry entry
// and id-map sidecar. Deleting a missing index is not an error.
func (s *Service) DeleteConversationIndex(ctx context.Context, conversationID string) error {
	return s.indexes.WithLock(conversationID, func() error {
		fileErr := s.indexes.Delete(conversationID)
		var mapErr error
		if err := s.turns.DeleteIndexMap(ctx, conversationID); err != nil {
			mapErr = fmt.Errorf("failed to delete index id map: %w", err)
		}
		return errors.Join(fileErr, mapErr)
	})
}

// RebuildIndex regenerates the conversation's index from the durable log,
// reusing stored embeddings produced by the current model. It returns the
// number of indexed records.
func (s *Service) RebuildIndex(ctx context.Context, conversationID string) (int, error) {
	if err := indexstore.ValidateConversationID(conversationID); err != nil {
		return 0, err
	}
	turns, err := s.turns.ReadOrdered(ctx, conversationID, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to read conversation log: %w", err)
	}

	modelID := s.embedder.ModelID()
	dims := s.embedder.Dimensions()
	collection := vectorindex.NewCollection(dims)
	turnIDs := make([]string, 0, len(turns))
	reused := 0
	for _, t := range turns {
		text := strings.TrimSpace(t.Content)
		if t.Role == types.RoleSystem || text == "" || collection.Contains(text) {
			continue
		}
		vec := t.Embedding
		if len(vec) == dims && t.EmbeddingModel == modelID {
			reused++
		} else {
			vec, err = s.embedder.EmbedDocument(ctx, text)
			if err != nil {
				return 0, err
			}
		}
		if _, _, err := collection.Add(text, vectorindex.NormalizeL2(vec)); err != nil {
			return 0, fmt.Errorf("failed to add turn %s: %w", t.ID, err)
		}
		turnIDs = append(turnIDs, t.ID)
	}

	if collection.Size() == 0 {
		return 0, s.DeleteConversationIndex(ctx, conversationID)
	}

	err = s.indexes.WithLock(conversationID, func() error {
		if err := s.indexes.Persist(conversationID, collection); err != nil {
			return err
		}
		return s.turns.ReplaceIndexMap(ctx, conversationID, turnIDs)
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("rebuilt conversation index", "conversation_id", conversationID, "records", collection.Size(), "reused_embeddings", reused)
	return collection.Size(), nil
}

func senderFor(key types.ConversationKey, role types.Role) string {
	switch role {
	case types.RoleUser:
		return key.UserID
	case types.RoleCharacter:
		return key.CharacterID
	default:
		return string(types.RoleSystem)
	}
}
