package memory

import (
	"cmp"
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/easeaico/petpal/internal/metrics"
	"github.com/easeaico/petpal/internal/profile"
	"github.com/easeaico/petpal/internal/types"
	"github.com/easeaico/petpal/internal/vectorindex"
)

// RetrievalKind describes how a retrieval was answered.
type RetrievalKind int

const (
	// KindHits carries ranked historical turns.
	KindHits RetrievalKind = iota
	// KindFastPath carries a direct answer from the profile fact table.
	KindFastPath
	// KindNoHistory means the conversation has no indexed turns.
	KindNoHistory
	// KindNoRelated means nothing passed the relevance filters.
	KindNoRelated
)

func (k RetrievalKind) String() string {
	switch k {
	case KindHits:
		return metrics.OutcomeHits
	case KindFastPath:
		return metrics.OutcomeFastPath
	case KindNoHistory:
		return metrics.OutcomeNoHistory
	default:
		return metrics.OutcomeNoRelated
	}
}

// Retrieval is the outcome of Retriever.Retrieve.
type Retrieval struct {
	Kind   RetrievalKind
	Texts  []string
	Answer string
}

// IndexSource hands out read-only conversation collections.
type IndexSource interface {
	Load(conversationID string) (*vectorindex.Collection, error)
}

// RetrieverOptions tunes ranking and filtering.
type RetrieverOptions struct {
	TopK          int
	MinSimilarity float64
	MaxSimilarity float64
	BandFilter    bool
	// Rand picks fast-path phrasing; nil uses the global source.
	Rand *rand.Rand
}

// Retriever turns a query into ranked, de-duplicated historical turns.
type Retriever struct {
	embedder Embedder
	indexes  IndexSource
	facts    *profile.Table
	opts     RetrieverOptions

	rngMu sync.Mutex
}

// NewRetriever creates a new Retriever. facts may be nil to disable the fast path.
func NewRetriever(embedder Embedder, indexes IndexSource, facts *profile.Table, opts RetrieverOptions) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MinSimilarity == 0 && opts.MaxSimilarity == 0 {
		opts.MinSimilarity = 0.4
		opts.MaxSimilarity = 0.85
	}
	return &Retriever{
		embedder: embedder,
		indexes:  indexes,
		facts:    facts,
		opts:     opts,
	}
}

var quoteFolder = strings.NewReplacer(
	"\u2018", "'", "\u2019", "'", "\u02BC", "'", "\u2032", "'",
	"\u201C", `"`, "\u201D", `"`,
)

// NormalizeQuery applies NFKC, folds typographic quotes to ASCII and
// collapses whitespace.
func NormalizeQuery(text string) string {
	return strings.Join(strings.Fields(quoteFolder.Replace(norm.NFKC.String(text))), " ")
}

type scoredText struct {
	text       string
	similarity float64
}

// Retrieve answers query for the conversation. Only embedding failures are
// returned as errors; they wrap ErrEmbedding.
func (r *Retriever) Retrieve(ctx context.Context, key types.ConversationKey, query string) (Retrieval, error) {
	start := time.Now()
	result, err := r.retrieve(ctx, key, query)
	metrics.RetrievalLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RetrievalTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return Retrieval{}, err
	}
	metrics.RetrievalTotal.WithLabelValues(result.Kind.String()).Inc()
	return result, nil
}

func (r *Retriever) retrieve(ctx context.Context, key types.ConversationKey, query string) (Retrieval, error) {
	q := NormalizeQuery(query)
	if q == "" {
		return Retrieval{Kind: KindNoRelated}, nil
	}

	if answer, ok := r.fastPath(key, q); ok {
		return Retrieval{Kind: KindFastPath, Answer: answer}, nil
	}

	collection, err := r.indexes.Load(key.ID())
	if err != nil {
		return Retrieval{}, fmt.Errorf("failed to load index: %w", err)
	}
	if collection.Size() == 0 {
		return Retrieval{Kind: KindNoHistory}, nil
	}

	vec, err := r.embedder.EmbedQuery(ctx, q)
	if err != nil {
		return Retrieval{}, err
	}

	// One extra neighbour absorbs a verbatim self-match.
	hits := collection.Search(vectorindex.NormalizeL2(vec), r.opts.TopK+1)

	seen := make(map[string]struct{}, len(hits))
	ranked := make([]scoredText, 0, len(hits))
	for _, hit := range hits {
		if _, dup := seen[hit.Text]; dup {
			continue
		}
		seen[hit.Text] = struct{}{}

		if NormalizeQuery(hit.Text) == q {
			continue
		}
		sim := vectorindex.Similarity(hit.Distance)
		if r.opts.BandFilter && (sim <= r.opts.MinSimilarity || sim >= r.opts.MaxSimilarity) {
			continue
		}
		ranked = append(ranked, scoredText{text: hit.Text, similarity: sim})
	}

	if len(ranked) == 0 {
		return Retrieval{Kind: KindNoRelated}, nil
	}
	slices.SortStableFunc(ranked, func(a, b scoredText) int {
		return cmp.Compare(b.similarity, a.similarity)
	})
	if len(ranked) > r.opts.TopK {
		ranked = ranked[:r.opts.TopK]
	}

	texts := make([]string, len(ranked))
	for i, s := range ranked {
		texts[i] = s.text
	}
	return Retrieval{Kind: KindHits, Texts: texts}, nil
}

func (r *Retriever) fastPath(key types.ConversationKey, query string) (string, bool) {
	if r.facts == nil {
		return "", false
	}
	intent, ok := profile.MatchIntent(query)
	if !ok {
		return "", false
	}
	subject := key.UserID
	if intent.Target == profile.TargetCharacter {
		subject = key.CharacterID
	}
	fact, ok := r.facts.Get(subject, intent.Attribute)
	if !ok {
		return "", false
	}

	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return intent.Answer(fact, r.opts.Rand), true
}
