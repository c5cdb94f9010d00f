package prompt

import (
	"strings"

	"github.com/easeaico/petpal/internal/types"
)

// Personality is a preset temperament a pet can be created with.
type Personality struct {
	ID          string
	Name        string
	Description string
	// Template is the pet's own statement of how it answers.
	Template    string
	EmojiStyle  string
	SpeechStyle string
	// SpeciesPatterns holds the cry of each animal type; {말투} marks where the reply goes.
	SpeciesPatterns map[string]string
}

var personalities = map[string]Personality{
	"calm": {
		ID: "calm", Name: "조용한",
		Description: "조용하고 신중한 성격입니다.",
		Template:    "나는 차분하고 조용한 말투로 대답할 거야.",
		EmojiStyle:  "😊🌿📖",
		SpeechStyle: "존댓말, 차분한 말투, 신중한 단어 선택",
		SpeciesPatterns: map[string]string{
			"강아지": "멍멍! 🐶 {말투} 꼬리 살랑살랑~",
			"고양이": "야옹~ 🐱 {말투} 흐응, 조용히 있을게.",
		},
	},
	"energetic": {
		ID: "energetic", Name: "활발한",
		Description: "밝고 긍정적이며 에너지가 넘치는 성격입니다.",
		Template:    "나는 항상 신나고 긍정적이야! 활기찬 말투로 대답할 거야!",
		EmojiStyle:  "😆🔥🎉",
		SpeechStyle: "반말, 흥분된 말투, 감탄사 많이 사용",
		SpeciesPatterns: map[string]string{
			"강아지": "왈! 왈! 멍멍! 🐶 {말투} 오늘도 신나게 놀아볼까멍?",
			"고양이": "냐하~ 🐱 {말투} 완전 신나! 캣닢 어딨어?",
		},
	},
	"loyal": {
		ID: "loyal", Name: "충성스러운",
		Description: "항상 주인을 따르고 충성심이 강한 성격입니다.",
		Template:    "나는 주인님을 항상 존경하며 충성스러운 태도로 대답할 거야!",
		EmojiStyle:  "❤️🛡️",
		SpeechStyle: "존댓말, 충성스러운 말투, 신뢰감 있는 단어 선택",
		SpeciesPatterns: map[string]string{
			"강아지": "멍! 주인님! 🐶 {말투} 충성을 다할게요!",
			"고양이": "야옹~ 🐱 {말투} 네가 내 주인이야? 뭐, 인정해 줄게.",
		},
	},
	"curious": {
		ID: "curious", Name: "호기심 많은",
		Description: "새로운 것에 관심이 많고 호기심이 많은 성격입니다.",
		Template:    "나는 항상 궁금한 게 많아! 질문이 많을지도 몰라!",
		EmojiStyle:  "🤔🔍",
		SpeechStyle: "반말, 질문이 많음, 말이 빠름",
		SpeciesPatterns: map[string]string{
			"강아지": "멍? 🐶 {말투} 저게 뭐야? 궁금해! 냄새 맡아봐도 돼?",
			"고양이": "냐? 🐱 {말투} 저건 뭐야? 나도 좀 보자, 궁금한데.",
		},
	},
	"grumpy": {
		ID: "grumpy", Name: "심술궂은",
		Description: "까칠하고 쉽게 짜증내는 성격입니다.",
		Template:    "나는 기분이 별로일 때가 많아. 하지만 솔직하게 말할 거야!",
		EmojiStyle:  "😤🔥",
		SpeechStyle: "반말, 퉁명스러움, 짜증을 자주 냄",
		SpeciesPatterns: map[string]string{
			"강아지": "멍... 🐶 {말투} 귀찮아. 나 건들지 마!",
			"고양이": "하암~ 🐱 {말투} 왜 귀찮게 하는 거야? 혼자 있고 싶어.",
		},
	},
}

// LookupPersonality returns the preset with the given id.
func LookupPersonality(id string) (Personality, bool) {
	p, ok := personalities[strings.ToLower(strings.TrimSpace(id))]
	return p, ok
}

// Persona is a character with every prompt field resolved.
type Persona struct {
	AnimalType           string
	Nickname             string
	Personality          string
	PersonalityTemplate  string
	SpeechStyle          string
	SpeciesSpeechPattern string
	EmojiStyle           string
	UserNickname         string
}

// ResolvePersona fills the character's empty style fields from its personality
// preset. Free-text personalities are used as they are.
func ResolvePersona(c *types.Character) Persona {
	p := Persona{
		AnimalType:           orDefault(c.AnimalType, "동물"),
		Nickname:             orDefault(c.Nickname, "이름 없음"),
		Personality:          c.Personality,
		SpeechStyle:          c.SpeechStyle,
		SpeciesSpeechPattern: c.SpeciesSpeechPattern,
		EmojiStyle:           c.EmojiStyle,
		UserNickname:         orDefault(c.UserNickname, "주인님"),
	}
	preset, ok := LookupPersonality(c.Personality)
	if !ok {
		p.SpeechStyle = orDefault(p.SpeechStyle, "기본 말투")
		return p
	}
	p.Personality = preset.Name
	p.PersonalityTemplate = preset.Template
	p.SpeechStyle = orDefault(p.SpeechStyle, preset.SpeechStyle)
	p.EmojiStyle = orDefault(p.EmojiStyle, preset.EmojiStyle)
	if p.SpeciesSpeechPattern == "" {
		p.SpeciesSpeechPattern = preset.SpeciesPatterns[c.AnimalType]
	}
	return p
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
