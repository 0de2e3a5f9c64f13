// Package classifier implements the textual half of conflict detection:
// given two pieces of content already known to be near-duplicates by
// vector similarity, decide whether they actually contradict each other.
// Generalized from the teacher's keyword-pattern HeuristicClassifier (which
// classified a memory's type) into a pluggable, language-agnostic negation
// detector, per the spec's open question that the source's Russian-only
// substring check should not hard-code a language.
package classifier

import (
	"regexp"
	"strings"
)

// Tokenizer supplies the per-language-family negation token list the
// detector checks against. Implementations may be as simple as a static
// word list (DefaultTokenizer) or back onto a real NLP pipeline.
type Tokenizer interface {
	// NegationTokens returns the negation markers recognized for text,
	// chosen however the implementation likes (language detection,
	// configuration, fixed set).
	NegationTokens(text string) []string
}

// DefaultTokenizer is a static, configuration-driven Tokenizer: callers
// supply one token list per language family and every list is checked
// against every text, which is sufficient for the common case of a small,
// fixed set of supported languages without requiring language detection.
type DefaultTokenizer struct {
	tokensByLanguage map[string][]string
}

// NewDefaultTokenizer builds a DefaultTokenizer from a language -> token
// list map, normally sourced from config.ConflictConfig.NegationTokens.
func NewDefaultTokenizer(tokensByLanguage map[string][]string) *DefaultTokenizer {
	return &DefaultTokenizer{tokensByLanguage: tokensByLanguage}
}

func (t *DefaultTokenizer) NegationTokens(text string) []string {
	var all []string
	for _, tokens := range t.tokensByLanguage {
		all = append(all, tokens...)
	}
	return all
}

var kvPattern = regexp.MustCompile(`(?i)\b([a-z_][a-z0-9_]*)\s*[:=]\s*([^\s,;]+)`)

// extractAssertions finds `key: value` or `key=value` pairs in text,
// normalizing keys and values to lowercase trimmed form.
func extractAssertions(text string) map[string]string {
	matches := kvPattern.FindAllStringSubmatch(text, -1)
	out := make(map[string]string, len(matches))
	for _, m := range matches {
		key := strings.ToLower(strings.TrimSpace(m[1]))
		val := strings.ToLower(strings.TrimSpace(m[2]))
		out[key] = val
	}
	return out
}

func containsToken(text string, token string) bool {
	re := regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(token) + `($|[^\p{L}\p{N}_])`)
	return re.MatchString(text)
}

func hasNegation(text string, tokens []string) bool {
	for _, tok := range tokens {
		if containsToken(text, tok) {
			return true
		}
	}
	return false
}

// ConflictDetector applies the textual tests from §4.5: asymmetric
// negation, differing key:value assertions, a differing proper-noun value
// in an otherwise identical sentence (the bare prose "uses MongoDB" vs
// "uses PostgreSQL" case scenario 3 names, which carries no tags and no
// negation for the first two tests to catch), and mutually exclusive
// tags. It never consults a vector store itself — the caller is
// responsible for the similarity pre-filter (τ_conflict) before invoking
// Detect.
type ConflictDetector struct {
	tokenizer         Tokenizer
	exclusiveTagPairs [][2]string
}

// NewConflictDetector builds a ConflictDetector with the given tokenizer
// and configured mutually-exclusive tag pairs.
func NewConflictDetector(tokenizer Tokenizer, exclusiveTagPairs [][2]string) *ConflictDetector {
	return &ConflictDetector{tokenizer: tokenizer, exclusiveTagPairs: exclusiveTagPairs}
}

// Detect compares newContent/newTags against an existing candidate's
// content/tags and reports whether they contradict, along with a short
// human-readable reason.
func (d *ConflictDetector) Detect(newContent string, newTags []string, candidateContent string, candidateTags []string) (bool, string) {
	negTokens := d.tokenizer.NegationTokens(newContent + " " + candidateContent)

	newHasNeg := hasNegation(newContent, negTokens)
	candHasNeg := hasNegation(candidateContent, negTokens)
	if newHasNeg != candHasNeg {
		return true, "asymmetric negation: one statement negates, the other does not"
	}

	newAssertions := extractAssertions(newContent)
	candAssertions := extractAssertions(candidateContent)
	for key, newVal := range newAssertions {
		if candVal, ok := candAssertions[key]; ok && candVal != newVal {
			return true, "conflicting assertion for \"" + key + "\": \"" + candVal + "\" vs \"" + newVal + "\""
		}
	}

	if a, b, ok := differingCapitalizedValue(newContent, candidateContent); ok {
		return true, "differing value in an otherwise identical statement: \"" + a + "\" vs \"" + b + "\""
	}

	if pair, ok := exclusivePair(d.exclusiveTagPairs, newTags, candidateTags); ok {
		return true, "mutually exclusive tags: \"" + pair[0] + "\" vs \"" + pair[1] + "\""
	}

	return false, ""
}

var wordPattern = regexp.MustCompile(`[A-Za-z0-9]+`)

func isCapitalized(w string) bool {
	if w == "" {
		return false
	}
	r := w[0]
	return r >= 'A' && r <= 'Z'
}

// differingCapitalizedValue catches the bare prose value-substitution case
// §4.5's third test doesn't otherwise cover: two sentences identical but
// for one swapped-in proper noun ("The service uses MongoDB" vs "The
// service uses PostgreSQL"), with no tags and no negation for the other
// tests to latch onto. It requires same word count (ignoring the
// sentence-initial word, whose capitalization is positional rather than
// semantic), exactly one differing word, and that word capitalized on
// both sides — otherwise ordinary rephrasing ("Fridays" vs "weekends",
// lowercase common nouns) would false-positive.
func differingCapitalizedValue(newContent, candidateContent string) (string, string, bool) {
	newWords := wordPattern.FindAllString(newContent, -1)
	candWords := wordPattern.FindAllString(candidateContent, -1)
	if len(newWords) < 2 || len(newWords) != len(candWords) {
		return "", "", false
	}

	newRest := newWords[1:]
	candRest := candWords[1:]
	diffIdx := -1
	for i := range newRest {
		if !strings.EqualFold(newRest[i], candRest[i]) {
			if diffIdx != -1 {
				return "", "", false
			}
			diffIdx = i
		}
	}
	if diffIdx == -1 {
		return "", "", false
	}

	a, b := newRest[diffIdx], candRest[diffIdx]
	if !isCapitalized(a) || !isCapitalized(b) {
		return "", "", false
	}
	return a, b, true
}

func exclusivePair(pairs [][2]string, tagsA, tagsB []string) ([2]string, bool) {
	setA := toSet(tagsA)
	setB := toSet(tagsB)
	for _, pair := range pairs {
		if (setA[pair[0]] && setB[pair[1]]) || (setA[pair[1]] && setB[pair[0]]) {
			return pair, true
		}
	}
	return [2]string{}, false
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[strings.ToLower(i)] = true
	}
	return set
}
