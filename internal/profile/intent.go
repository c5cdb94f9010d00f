package profile

import (
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/easeaico/petpal/internal/types"
)

// Target says whose fact an intent asks about.
type Target int

const (
	TargetUser Target = iota
	TargetCharacter
)

// Intent is a direct question about one profile attribute.
type Intent struct {
	Name      string
	Target    Target
	Attribute types.AttributeKey
	re        *regexp.Regexp
	templates []string
}

var intents = []Intent{
	{
		Name: "user_hobby", Target: TargetUser, Attribute: types.AttributeHobby,
		re: regexp.MustCompile(`(?i)what(?:'s| is| are) my (?:hobby|hobbies)|do you (?:know|remember) my hobby|(?:내|제) 취미(?:가|는)?\s*(?:뭐|무엇)`),
		templates: []string{
			"Your hobby is %s! I remember.",
			"Of course I know! You love %s.",
			"You told me your hobby is %s.",
		},
	},
	{
		Name: "user_identity", Target: TargetUser, Attribute: types.AttributeIdentity,
		re: regexp.MustCompile(`(?i)\bwho am i\b|what(?:'s| is) my name|(?:내|제) 이름(?:이|은)?\s*(?:뭐|무엇)|내가 누구`),
		templates: []string{
			"You're %s, of course!",
			"You are %s. How could I forget?",
		},
	},
	{
		Name: "user_occupation", Target: TargetUser, Attribute: types.AttributeOccupation,
		re: regexp.MustCompile(`(?i)what(?:'s| is) my (?:job|occupation)|what do i do for (?:a )?living|(?:내|제) 직업(?:이|은)?\s*(?:뭐|무엇)`),
		templates: []string{
			"You work as %s!",
			"You told me you're %s.",
		},
	},
	{
		Name: "user_residence", Target: TargetUser, Attribute: types.AttributeResidence,
		re: regexp.MustCompile(`(?i)where do i live|where am i from|(?:내가|제가) 어디(?:에)? 살`),
		templates: []string{
			"You live in %s!",
			"%s, right? That's where you live.",
		},
	},
	{
		Name: "user_age", Target: TargetUser, Attribute: types.AttributeAge,
		re: regexp.MustCompile(`(?i)how old am i|what(?:'s| is) my age|(?:내|제) 나이`),
		templates: []string{
			"You're %s years old!",
			"You told me you're %s.",
		},
	},
	{
		Name: "user_mbti", Target: TargetUser, Attribute: types.AttributeMBTI,
		re: regexp.MustCompile(`(?i)what(?:'s| is) my mbti|(?:내|제) mbti`),
		templates: []string{
			"Your MBTI is %s!",
			"You're an %s, I remember.",
		},
	},
	{
		Name: "character_identity", Target: TargetCharacter, Attribute: types.AttributeIdentity,
		re: regexp.MustCompile(`(?i)who are you|what(?:'s| is) your name|(?:너는?|넌) 누구`),
		templates: []string{
			"I'm %s!",
			"It's me, %s!",
		},
	},
	{
		Name: "character_disposition", Target: TargetCharacter, Attribute: types.AttributeDisposition,
		re: regexp.MustCompile(`(?i)what(?:'s| is) your personality|what are you like|(?:너|네) 성격`),
		templates: []string{
			"I'm %s!",
			"People say I'm %s.",
		},
	},
}

// MatchIntent returns the first intent whose pattern matches query.
func MatchIntent(query string) (Intent, bool) {
	q := strings.TrimSpace(query)
	if q == "" {
		return Intent{}, false
	}
	for _, in := range intents {
		if in.re.MatchString(q) {
			return in, true
		}
	}
	return Intent{}, false
}

// Answer renders a sentence for fact using one of the intent's templates.
// rng picks the phrasing; nil uses the global source.
func (in Intent) Answer(fact types.ProfileFact, rng *rand.Rand) string {
	if len(in.templates) == 0 {
		return fact.Value
	}
	var i int
	if rng != nil {
		i = rng.IntN(len(in.templates))
	} else {
		i = rand.IntN(len(in.templates))
	}
	return strings.Replace(in.templates[i], "%s", fact.Value, 1)
}
