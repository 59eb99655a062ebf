package approval

import "strings"

// Reply is how an incoming utterance maps onto a pending approval.
type Reply int

const (
	// ReplyNone means the text is not an answer to the approval.
	ReplyNone Reply = iota
	ReplyYes
	ReplyNo
)

var (
	yesWords = []string{"/yes", "yes", "y", "ja", "j", "ok", "mach", "do it", "bestätigen", "passt"}
	noWords  = []string{"/no", "no", "n", "nein", "stop", "abort", "abbrechen"}
)

// ParseReply classifies text against the yes/no vocabulary. Voice transcripts
// usually carry sentence punctuation, so for them ".!?" is dropped first.
func ParseReply(text string, voice bool) Reply {
	s := strings.ToLower(strings.TrimSpace(text))
	if voice {
		s = strings.NewReplacer(".", "", "!", "", "?", "").Replace(s)
		s = strings.TrimSpace(s)
	}
	for _, w := range yesWords {
		if s == w {
			return ReplyYes
		}
	}
	for _, w := range noWords {
		if s == w {
			return ReplyNo
		}
	}
	return ReplyNone
}
