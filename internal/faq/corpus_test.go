package faq

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_EmbeddedCorpus(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error loading embedded corpus: %v", err)
	}
	report := c.Validate()
	if !report.IsValid || report.TotalQuestions != c.Len() || report.Categories != len(c.Categories) {
		t.Errorf("unexpected report %+v", report)
	}
	first, ok := c.Entry(1)
	if !ok || first.Category != c.Categories[0].Name {
		t.Errorf("expected entry 1 to belong to first category, got %+v", first)
	}
	if _, ok := c.Entry(c.Len() + 1); ok {
		t.Error("expected out of range entry lookup to fail")
	}
	if _, ok := c.Entry(0); ok {
		t.Error("expected entry 0 lookup to fail")
	}
}

func TestLoad_FileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faqs.json")
	data := `{"categories":[{"name":"A","questions":[{"question":"q1","answer":"a1"}]},{"name":"B","questions":[{"question":"q2","answer":"a2"}]}]}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e, _ := c.Entry(2)
	if e.Question != "q2" || e.Category != "B" || e.Number != 2 {
		t.Errorf("unexpected numbering: %+v", e)
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse([]byte(`{"categories":[]}`)); !errors.Is(err, ErrEmptyCorpus) {
		t.Errorf("expected ErrEmptyCorpus, got %v", err)
	}
	if _, err := Parse([]byte(`{`)); err == nil {
		t.Error("expected decode error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected read error for missing file")
	}
}

func TestCategoryContainingAndTopics(t *testing.T) {
	c := NewCorpus([]Category{
		{Name: "Huberman Lab", Questions: []Item{{Question: "q", Answer: "a"}}},
		{Name: "Huberman Lab Premium", Questions: []Item{{Question: "p", Answer: "b"}}},
	}, map[string]string{"research": "r", "awards": "w"})

	cat, ok := c.CategoryContaining("premium")
	if !ok || cat.Name != "Huberman Lab Premium" {
		t.Errorf("expected premium category, got %+v", cat)
	}
	if _, ok := c.CategoryContaining("merch"); ok {
		t.Error("expected no merch category")
	}
	topics := c.KnowledgeTopics()
	if len(topics) != 2 || topics[0] != "awards" {
		t.Errorf("expected sorted topics, got %v", topics)
	}
}
