package router

import (
	"strings"

	"relaybot/internal/storage"
	"relaybot/internal/translate"
)

// Decision is the per-message translation plan. Source may be empty,
// meaning the provider should auto-detect.
type Decision struct {
	Target translate.Lang
	Source translate.Lang
	// Prefix is a leading "@handle" captured from the message; it is
	// re-attached in front of the delivered translation.
	Prefix string
}

// mentionSeparators end a leading @handle token. The full-width colon
// shows up constantly in Chinese-language chats.
var mentionSeparators = []string{" ", "\n", ":", "："}

// Decide computes the translation direction for user-authored text.
// It returns the decision, the exact text to hand to the chain, and
// ok=false when the message should be skipped entirely (bare mention,
// empty after mention stripping, or no Han/Latin content).
//
// Direction is content-driven: any Han content goes to English, otherwise
// any Latin letters go to Chinese. A persisted non-auto chat mode overrides
// the computed target but the source hint stays content-derived.
func Decide(text string, mode storage.LangMode) (Decision, string, bool) {
	t := strings.TrimSpace(text)
	if isBareMention(t) {
		return Decision{}, "", false
	}

	var d Decision
	toTranslate := text
	if strings.HasPrefix(toTranslate, "@") {
		if prefix, rest, found := splitMention(toTranslate); found {
			d.Prefix = prefix
			toTranslate = rest
			if toTranslate == "" {
				return Decision{}, "", false
			}
		}
	}

	zhCount := translate.HanCount(toTranslate)
	enCount := translate.LatinCount(toTranslate)
	switch {
	case zhCount > 0:
		d.Target = translate.EN
		d.Source = translate.ZH
	case enCount > 0:
		d.Target = translate.ZH
		// Latin script could be English, Indonesian, Hindi transliteration...
		// let the provider auto-detect the source.
	default:
		// Symbols, emoji or digits only.
		return Decision{}, "", false
	}

	switch mode {
	case storage.ModeEN:
		d.Target = translate.EN
	case storage.ModeZH:
		d.Target = translate.ZH
	}

	return d, toTranslate, true
}

// isBareMention reports a message that is just "@handle" with no body.
func isBareMention(t string) bool {
	if !strings.HasPrefix(t, "@") {
		return false
	}
	return !strings.ContainsAny(t, " :\n") && !strings.Contains(t, "：")
}

// splitMention cuts a leading "@handle" token at the first separator.
// Whitespace after the token is dropped; a separating colon stays with the
// body so punctuation survives into the translation request.
func splitMention(s string) (prefix, rest string, found bool) {
	cut := -1
	for _, sep := range mentionSeparators {
		if i := strings.Index(s, sep); i > 0 && (cut == -1 || i < cut) {
			cut = i
		}
	}
	if cut == -1 {
		return "", s, false
	}
	prefix = strings.TrimSpace(s[:cut])
	rest = strings.TrimLeft(s[cut:], " \t\n")
	return prefix, rest, true
}
