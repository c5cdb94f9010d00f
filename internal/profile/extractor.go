// Package profile mines conversation text for profile facts and answers direct
// questions about them.
package profile

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/easeaico/petpal/internal/metrics"
	"github.com/easeaico/petpal/internal/types"
)

// valueStop ends a captured value at punctuation or a line break.
const valueStop = `[^.!?,;\n]+`

type pattern struct {
	attribute types.AttributeKey
	re        *regexp.Regexp
}

// patterns is ordered: a later match for the same attribute overwrites an earlier one.
var patterns = []pattern{
	{types.AttributeIdentity, regexp.MustCompile(`(?i)\bmy name is (` + valueStop + `)`)},
	{types.AttributeIdentity, regexp.MustCompile(`(?:내|제) 이름은\s*(` + valueStop + `)`)},

	{types.AttributeHobby, regexp.MustCompile(`(?i)\bmy (?:hobby is|hobbies are|favou?rite hobby is) (` + valueStop + `)`)},
	{types.AttributeHobby, regexp.MustCompile(`(?i)\bi (?:really )?(?:enjoy|love) (` + valueStop + `) in my free time`)},
	{types.AttributeHobby, regexp.MustCompile(`(?:내|제) 취미는\s*(` + valueStop + `)`)},

	{types.AttributeOccupation, regexp.MustCompile(`(?i)\bi work as (?:an? )?(` + valueStop + `)`)},
	{types.AttributeOccupation, regexp.MustCompile(`(?i)\bmy (?:job|occupation) is (?:an? )?(` + valueStop + `)`)},
	{types.AttributeOccupation, regexp.MustCompile(`(?:내|제) 직업은\s*(` + valueStop + `)`)},

	{types.AttributeResidence, regexp.MustCompile(`(?i)\bi live in (` + valueStop + `)`)},
	{types.AttributeResidence, regexp.MustCompile(`(?i)\bi'?m from (` + valueStop + `)`)},
	{types.AttributeResidence, regexp.MustCompile(`(\S+)에 살`)},

	{types.AttributeAge, regexp.MustCompile(`(?i)\bi(?:'m| am) (\d{1,3}) years? old`)},
	{types.AttributeAge, regexp.MustCompile(`(?i)\bmy age is (\d{1,3})`)},
	{types.AttributeAge, regexp.MustCompile(`(?:나는|저는)\s*(\d{1,3})살`)},

	{types.AttributeMBTI, regexp.MustCompile(`(?i)\bmy mbti is ([ei][ns][tf][jp])\b`)},
	{types.AttributeMBTI, regexp.MustCompile(`(?i)\bi(?:'m| am) an? ([ei][ns][tf][jp])\b`)},
	{types.AttributeMBTI, regexp.MustCompile(`(?i)\b([ei][ns][tf][jp])\s*(?:이야|예요|이에요|입니다)`)},

	{types.AttributeDisposition, regexp.MustCompile(`(?i)\bi(?:'m| am) (?:a |an |very |really |quite |pretty )*(shy|playful|calm|curious|lazy|energetic|friendly|grumpy|cheerful|gentle|timid|brave|introverted|extroverted|clingy|independent)\b`)},
	{types.AttributeDisposition, regexp.MustCompile(`(?:내|제) 성격은\s*(` + valueStop + `)`)},
}

// Korean sentence endings trimmed from captured values.
var copulaSuffixes = []string{"이에요", "예요", "입니다", "이야", "이다", "야", "요"}

// Match is one extracted attribute value.
type Match struct {
	Attribute types.AttributeKey
	Value     string
}

// Extract returns the facts found in text, at most one per attribute (the last match wins).
func Extract(text string) []Match {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	found := make(map[types.AttributeKey]string)
	var order []types.AttributeKey
	for _, p := range patterns {
		groups := p.re.FindAllStringSubmatch(text, -1)
		for _, g := range groups {
			value := cleanValue(p.attribute, g[1])
			if value == "" {
				continue
			}
			if _, seen := found[p.attribute]; !seen {
				order = append(order, p.attribute)
			}
			found[p.attribute] = value
		}
	}

	matches := make([]Match, 0, len(order))
	for _, attr := range order {
		matches = append(matches, Match{Attribute: attr, Value: found[attr]})
	}
	return matches
}

func cleanValue(attr types.AttributeKey, raw string) string {
	value := strings.TrimSpace(raw)
	for _, suffix := range copulaSuffixes {
		if trimmed, ok := strings.CutSuffix(value, suffix); ok && trimmed != "" {
			value = strings.TrimSpace(trimmed)
			break
		}
	}
	value = strings.Trim(value, `"'`)
	switch attr {
	case types.AttributeMBTI:
		value = strings.ToUpper(value)
	case types.AttributeDisposition:
		value = strings.ToLower(value)
	}
	return value
}

// Snapshotter persists profile facts. Optional.
type Snapshotter interface {
	UpsertFact(ctx context.Context, fact types.ProfileFact) error
	ListFacts(ctx context.Context) ([]types.ProfileFact, error)
	DeleteSubject(ctx context.Context, subject string) error
}

// Extractor writes extracted facts into a Table.
type Extractor struct {
	table    *Table
	snapshot Snapshotter
	logger   *slog.Logger
	now      func() time.Time
}

// NewExtractor returns an Extractor. snapshot may be nil.
func NewExtractor(table *Table, snapshot Snapshotter, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{table: table, snapshot: snapshot, logger: logger, now: time.Now}
}

// Table returns the fact table the extractor writes to.
func (e *Extractor) Table() *Table {
	return e.table
}

// Observe extracts facts about subject from text and upserts them. It returns
// the number of facts written and never fails.
func (e *Extractor) Observe(ctx context.Context, subject, text string) int {
	if subject == "" {
		return 0
	}
	matches := Extract(text)
	for _, m := range matches {
		e.put(ctx, types.ProfileFact{Subject: subject, Attribute: m.Attribute, Value: m.Value, UpdatedAt: e.now()})
	}
	return len(matches)
}

// SeedCharacter records the character's configured identity and disposition.
func (e *Extractor) SeedCharacter(ctx context.Context, character *types.Character) {
	if character == nil || character.ID == "" {
		return
	}
	if name := strings.TrimSpace(character.Nickname); name != "" {
		identity := name
		if character.AnimalType != "" {
			identity = name + ", a " + character.AnimalType
		}
		e.put(ctx, types.ProfileFact{Subject: character.ID, Attribute: types.AttributeIdentity, Value: identity, UpdatedAt: e.now()})
	}
	if p := strings.TrimSpace(character.Personality); p != "" {
		e.put(ctx, types.ProfileFact{Subject: character.ID, Attribute: types.AttributeDisposition, Value: p, UpdatedAt: e.now()})
	}
}

// Forget drops every fact about subject.
func (e *Extractor) Forget(ctx context.Context, subject string) {
	e.table.DeleteSubject(subject)
	if e.snapshot == nil {
		return
	}
	if err := e.snapshot.DeleteSubject(ctx, subject); err != nil {
		e.logger.Warn("failed to delete profile snapshot", "subject", subject, "error", err.Error())
	}
}

// Warm loads the persisted snapshot into the table.
func (e *Extractor) Warm(ctx context.Context) error {
	if e.snapshot == nil {
		return nil
	}
	facts, err := e.snapshot.ListFacts(ctx)
	if err != nil {
		return err
	}
	for _, f := range facts {
		e.table.Upsert(f)
	}
	return nil
}

func (e *Extractor) put(ctx context.Context, fact types.ProfileFact) {
	e.table.Upsert(fact)
	metrics.ProfileFactsUpserted.WithLabelValues(string(fact.Attribute)).Inc()
	if e.snapshot == nil {
		return
	}
	if err := e.snapshot.UpsertFact(ctx, fact); err != nil {
		e.logger.Warn("failed to persist profile fact",
			"subject", fact.Subject, "attribute", string(fact.Attribute), "error", err.Error())
	}
}
