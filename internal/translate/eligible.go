package translate

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/cases"
	"golang.org/x/text/width"
)

// Short reaction phrases that never benefit from translation. Matched after
// key normalization.
var noopPhrases = map[string]struct{}{
	"草":     {},
	"w":     {},
	"ww":    {},
	"www":   {},
	"wwww":  {},
	"哈哈":    {},
	"哈哈哈":   {},
	"哈哈哈哈":  {},
	"233":   {},
	"2333":  {},
	"23333": {},
	"666":   {},
	"6666":  {},
	"好":     {},
	"好耶":    {},
	"awsl":  {},
	"gg":    {},
	"emm":   {},
	"??":    {},
	"???":   {},
}

// bracketPattern matches lines that already carry a second rendition in
// brackets, e.g. "你好（こんにちは）".
var bracketPattern = regexp.MustCompile(`[(（\[【].+[)）\]】]`)

var foldCaser = cases.Fold()

// NormalizeKey canonicalizes text for use as a dedup/cache key: trimmed,
// case folded, full-width characters narrowed.
func NormalizeKey(text string) string {
	return foldCaser.String(width.Fold.String(strings.TrimSpace(text)))
}

// NeedsTranslation is the heuristic gate before a text is scheduled for
// translation. It wants Han ideographs, rejects kana-dominant (already
// Japanese) lines, bracketed dual-language lines, and no-op phrases.
func NeedsTranslation(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	if _, ok := noopPhrases[NormalizeKey(t)]; ok {
		return false
	}
	if !containsHan(t) {
		return false
	}
	if kanaDominant(t) {
		return false
	}
	if isDualLanguage(t) {
		return false
	}
	return true
}

func containsHan(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// kanaDominant reports whether the line reads as Japanese rather than
// Chinese: more kana than ideographs, or the detected script is kana.
func kanaDominant(text string) bool {
	kana, han := 0, 0
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			kana++
		case unicode.Is(unicode.Han, r):
			han++
		}
	}
	if kana > han {
		return true
	}
	if kana == 0 {
		return false
	}
	script := whatlanggo.DetectScript(text)
	return script == unicode.Hiragana || script == unicode.Katakana
}

// isDualLanguage detects lines whose bracketed part duplicates the message
// in another language; both halves carrying CJK is a strong enough signal.
func isDualLanguage(text string) bool {
	loc := bracketPattern.FindStringIndex(text)
	if loc == nil {
		return false
	}
	inside := text[loc[0]:loc[1]]
	outside := text[:loc[0]] + text[loc[1]:]
	return containsCJK(inside) && containsCJK(outside)
}

func containsCJK(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}
