package related

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"

	"github.com/rewired-gh/polyrelated/internal/logger"
	"github.com/rewired-gh/polyrelated/internal/textvec"
)

// Entities is the fixed vocabulary of named entities that tie markets together
// across events. Multi-word entries match as whole phrases.
var Entities = []string{
	"apple", "microsoft", "google", "amazon", "meta", "tesla", "nvidia",
	"bitcoin", "ethereum", "crypto", "btc", "eth",
	"trump", "biden", "election", "president",
	"fed", "federal reserve", "ecb", "european central bank",
}

const maxKeywords = 8

var (
	wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)
	yearPattern = regexp.MustCompile(`^\d{4}$`)
)

// ExtractEntities returns the known entities mentioned in text, in vocabulary order.
// Matching is on word boundaries, so "meta" does not match "metaverse".
func ExtractEntities(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 {
		return nil
	}
	padded := " " + strings.Join(words, " ") + " "

	var found []string
	for _, entity := range Entities {
		if strings.Contains(padded, " "+entity+" ") {
			found = append(found, entity)
		}
	}
	return found
}

// ExtractKeywords returns up to eight distinct content words of text: lower-cased,
// at least three characters, alphanumeric, not a stop word and not a bare year.
func ExtractKeywords(text string) []string {
	seen := make(map[string]struct{})
	var keywords []string
	for _, tok := range tokenize(text) {
		w := strings.ToLower(tok)
		if len([]rune(w)) < 3 || !isAlnum(w) || textvec.IsStopWord(w) || yearPattern.MatchString(w) {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

func tokenize(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithSegmentation(false),
		prose.WithExtraction(false))
	if err != nil {
		logger.Debug("prose tokenization failed, falling back to word split: %v", err)
		return wordPattern.FindAllString(text, -1)
	}

	tokens := doc.Tokens()
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, t.Text)
	}
	return out
}

func isAlnum(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// intersect returns the members of a that also appear in b, in a's order.
func intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	var shared []string
	for _, s := range a {
		if _, ok := set[s]; ok {
			shared = append(shared, s)
		}
	}
	return shared
}
