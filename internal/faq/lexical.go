package faq

import (
	"regexp"
	"strings"
)

// Lexical scoring constants.
const (
	// LexicalThreshold is the score a question must exceed to be accepted.
	LexicalThreshold = 0.6
	// containmentBonus is added when one string contains the other.
	containmentBonus = 0.3
	// KeywordConfidence is reported for keyword-table fallbacks.
	KeywordConfidence = 0.5
)

// keywordTable maps a category key to trigger words, checked in order.
var keywordTable = []struct {
	key      string
	keywords []string
}{
	{"premium", []string{"premium", "subscription", "member", "cost", "price"}},
	{"newsletter", []string{"newsletter", "email", "subscribe"}},
	{"episodes", []string{"episode", "podcast", "listen", "watch", "schedule"}},
	{"huberman", []string{"andrew", "huberman", "credentials", "who is"}},
	{"sponsors", []string{"sponsor", "advertising", "partnership"}},
	{"events", []string{"event", "speaking", "live", "conference"}},
	{"merchandise", []string{"merch", "shop", "merchandise", "store"}},
}

var explicitURLPattern = regexp.MustCompile(`https?://[^\s]+`)

// CorpusMatch is a corpus entry chosen without an LLM.
type CorpusMatch struct {
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Resources  []string `json:"resources,omitempty"`
}

// LexicalMatcher scores questions by token overlap.
type LexicalMatcher struct {
	corpus *Corpus
}

// NewLexicalMatcher creates a matcher over corpus.
func NewLexicalMatcher(corpus *Corpus) *LexicalMatcher {
	return &LexicalMatcher{corpus: corpus}
}

// Match returns the best entry scoring above LexicalThreshold, falling back to
// the keyword table. It returns nil when neither finds anything.
func (m *LexicalMatcher) Match(question string) *CorpusMatch {
	normalized := strings.ToLower(strings.TrimSpace(question))
	if normalized == "" {
		return nil
	}

	var best *CorpusMatch
	highest := 0.0
	for _, e := range m.corpus.Entries() {
		score := Similarity(normalized, strings.ToLower(e.Question))
		if score > highest && score > LexicalThreshold {
			highest = score
			best = &CorpusMatch{
				Question:   e.Question,
				Answer:     e.Answer,
				Category:   e.Category,
				Confidence: score,
				Resources:  answerResources(e.Answer),
			}
		}
	}
	if best != nil {
		return best
	}
	return m.keywordMatch(normalized)
}

func (m *LexicalMatcher) keywordMatch(question string) *CorpusMatch {
	for _, row := range keywordTable {
		for _, kw := range row.keywords {
			if !strings.Contains(question, kw) {
				continue
			}
			cat, ok := m.corpus.CategoryContaining(row.key)
			if !ok || len(cat.Questions) == 0 {
				continue
			}
			qa := cat.Questions[0]
			return &CorpusMatch{
				Question:   qa.Question,
				Answer:     qa.Answer,
				Category:   cat.Name,
				Confidence: KeywordConfidence,
				Resources:  answerResources(qa.Answer),
			}
		}
	}
	return nil
}

// Similarity is the Jaccard index over whitespace tokens plus a bonus when one
// string contains the other, capped at 1.
func Similarity(a, b string) float64 {
	set1 := tokenSet(a)
	set2 := tokenSet(b)

	union := make(map[string]struct{}, len(set1)+len(set2))
	inter := 0
	for w := range set1 {
		union[w] = struct{}{}
		if _, ok := set2[w]; ok {
			inter++
		}
	}
	for w := range set2 {
		union[w] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}

	score := float64(inter) / float64(len(union))
	if strings.Contains(a, b) || strings.Contains(b, a) {
		score += containmentBonus
	}
	if score > 1 {
		return 1
	}
	return score
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// answerResources lists explicit URLs in an answer plus the site root when it is mentioned.
func answerResources(answer string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(u string) {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	for _, u := range explicitURLPattern.FindAllString(answer, -1) {
		add(u)
	}
	if strings.Contains(strings.ToLower(answer), "hubermanlab.com") {
		add("https://www.hubermanlab.com")
	}
	return out
}
