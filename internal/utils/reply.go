package utils

import "strings"

// Stock greetings the model tends to open with mid-conversation.
var greetingPhrases = []string{
	"안녕하세요!",
	"반갑습니다!",
	"Hello there!",
	"Nice to meet you!",
}

// CleanReply strips stock greetings and collapses whitespace in a model reply.
func CleanReply(raw string) string {
	clean := strings.TrimSpace(raw)
	for _, phrase := range greetingPhrases {
		clean = strings.ReplaceAll(clean, phrase, "")
	}
	return strings.Join(strings.Fields(clean), " ")
}
