// Package ml implements the trainable text model: normalisation, a TF-IDF
// vectorizer, a multinomial Naive Bayes classifier and evaluation helpers.
package ml

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	zeroWidthRe  = regexp.MustCompile("[\u200B-\u200D\uFEFF]")
	urlRe        = regexp.MustCompile(`https?://\S+`)
	emailRe      = regexp.MustCompile(`\S+@\S+`)
	phoneRe      = regexp.MustCompile(`\+?\d[\d\s\-\(\)]{7,}\d`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize prepares raw submission text for the vectorizer. URLs, e-mail
// addresses and phone numbers collapse into placeholder tokens so the model
// learns "has a link" rather than individual hosts.
func Normalize(text string) string {
	text = html.UnescapeString(text)
	text = zeroWidthRe.ReplaceAllString(text, "")
	text = urlRe.ReplaceAllString(text, " URL ")
	text = emailRe.ReplaceAllString(text, " EMAIL ")
	text = phoneRe.ReplaceAllString(text, " PHONE ")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// StripAccents removes combining marks after canonical decomposition.
func StripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Tokenize lowercases, strips accents and splits on anything that is not a
// letter, digit or underscore. Single-rune tokens are dropped.
func Tokenize(text string) []string {
	text = StripAccents(strings.ToLower(text))
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// NGrams expands tokens into all n-grams with minN <= n <= maxN, joined by a
// single space.
func NGrams(tokens []string, minN, maxN int) []string {
	if minN < 1 {
		minN = 1
	}
	var out []string
	for n := minN; n <= maxN; n++ {
		if n == 1 {
			out = append(out, tokens...)
			continue
		}
		for i := 0; i+n <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}
