// Package faq matches free-text questions against a fixed, categorized FAQ corpus.
//
// It provides a lexical matcher that needs no LLM, an AI matcher that asks the
// configured provider to pick an FAQ using a small marker grammar (blocking and
// streaming variants), and optional semantic retrieval backed by Qdrant.
package faq

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
)

//go:embed data/faqs.json
var defaultCorpus []byte

// ErrEmptyCorpus is returned when a corpus has no questions.
var ErrEmptyCorpus = errors.New("faq corpus has no questions")

// Item is one question/answer pair.
type Item struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Category groups items under a display name.
type Category struct {
	Name      string `json:"name"`
	Questions []Item `json:"questions"`
}

// Entry is an item with its 1-based number across the whole corpus.
type Entry struct {
	Number   int
	Question string
	Answer   string
	Category string
}

// Corpus is the read-only FAQ data. It must not be mutated after Load or Parse.
type Corpus struct {
	Title       string `json:"title"`
	SourceURL   string `json:"source_url"`
	ScrapedAt   string `json:"scraped_at"`
	LastUpdated string `json:"last_updated"`
	Metadata    struct {
		Description string `json:"description"`
		Language    string `json:"language"`
	} `json:"metadata"`
	Categories          []Category        `json:"categories"`
	KnowledgeBase       map[string]string `json:"knowledge_base,omitempty"`
	AdditionalResources struct {
		Contact       string   `json:"contact"`
		PopularTopics []string `json:"popular_topics"`
		Tools         struct {
			AskHubermanLab string `json:"ask_huberman_lab"`
			Search         string `json:"search"`
		} `json:"tools"`
	} `json:"additional_resources"`

	entries []Entry
}

// Report summarizes a corpus for startup checks.
type Report struct {
	IsValid        bool `json:"isValid"`
	TotalQuestions int  `json:"totalQuestions"`
	Categories     int  `json:"categories"`
}

// Load reads the corpus from path, or the embedded default corpus when path is empty.
func Load(path string) (*Corpus, error) {
	if path == "" {
		slog.Debug("faq.Load: using embedded corpus")
		return Parse(defaultCorpus)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read FAQ corpus %s: %w", path, err)
	}
	slog.Debug("faq.Load: read corpus file", "path", path, "bytes", len(data))
	return Parse(data)
}

// Parse decodes a corpus and numbers its entries.
func Parse(data []byte) (*Corpus, error) {
	var c Corpus
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode FAQ corpus: %w", err)
	}
	c.index()
	if len(c.entries) == 0 {
		return nil, ErrEmptyCorpus
	}
	return &c, nil
}

// NewCorpus builds a corpus from categories, mostly useful for tests and tools.
func NewCorpus(categories []Category, knowledgeBase map[string]string) *Corpus {
	c := &Corpus{Categories: categories, KnowledgeBase: knowledgeBase}
	c.index()
	return c
}

func (c *Corpus) index() {
	c.entries = c.entries[:0]
	n := 1
	for _, cat := range c.Categories {
		for _, qa := range cat.Questions {
			c.entries = append(c.entries, Entry{Number: n, Question: qa.Question, Answer: qa.Answer, Category: cat.Name})
			n++
		}
	}
}

// Entries returns every entry in number order.
func (c *Corpus) Entries() []Entry {
	return c.entries
}

// Entry looks up an entry by its 1-based number.
func (c *Corpus) Entry(n int) (Entry, bool) {
	if n < 1 || n > len(c.entries) {
		return Entry{}, false
	}
	return c.entries[n-1], true
}

// Len is the number of entries.
func (c *Corpus) Len() int {
	return len(c.entries)
}

// CategoryContaining returns the first category whose lowercased name contains key.
func (c *Corpus) CategoryContaining(key string) (Category, bool) {
	for _, cat := range c.Categories {
		if strings.Contains(strings.ToLower(cat.Name), key) {
			return cat, true
		}
	}
	return Category{}, false
}

// KnowledgeTopics returns the knowledge-base topics sorted by name.
func (c *Corpus) KnowledgeTopics() []string {
	topics := make([]string, 0, len(c.KnowledgeBase))
	for t := range c.KnowledgeBase {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Validate reports whether the corpus has any questions.
func (c *Corpus) Validate() Report {
	return Report{
		IsValid:        len(c.entries) > 0,
		TotalQuestions: len(c.entries),
		Categories:     len(c.Categories),
	}
}
