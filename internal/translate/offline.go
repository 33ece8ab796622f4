package translate

import (
	"context"
	"strings"
)

// Offline is the deterministic dictionary-substitution fallback. It never
// fails; the chain discards its output when the direction check rejects it.
type Offline struct{}

func NewOffline() *Offline { return &Offline{} }

func (*Offline) Name() string { return ProviderOffline }

// Substitution pairs are ordered longest-first so compounds win over their
// parts (e.g. 我们 before 我).
var zhToEN = []struct{ from, to string }{
	{"我们", "we"},
	{"你好", "hello"},
	{"谢谢", "thank you"},
	{"是", "is"},
	{"我", "I"},
	{"你", "you"},
	{"他", "he"},
	{"她", "she"},
	{"好", "good"},
	{"不", "not"},
	{"请", "please"},
}

var enToZH = map[string]string{
	"hello": "你好",
	"thank": "谢谢",
	"you":   "你",
	"is":    "是",
	"i":     "我",
	"he":    "他",
	"she":   "她",
	"we":    "我们",
	"good":  "好",
	"not":   "不",
	"please": "请",
}

func (*Offline) Translate(_ context.Context, text string, _, target Lang) (string, error) {
	switch target {
	case EN:
		out := text
		for _, p := range zhToEN {
			out = strings.ReplaceAll(out, p.from, p.to)
		}
		return out, nil
	case ZH:
		words := strings.Fields(text)
		var b strings.Builder
		for _, w := range words {
			if zh, ok := enToZH[strings.ToLower(w)]; ok {
				b.WriteString(zh)
			} else {
				b.WriteString(w)
			}
		}
		return b.String(), nil
	default:
		return text, nil
	}
}
