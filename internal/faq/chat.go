package faq

import (
	"context"
	"fmt"
	"strings"

	"github.com/BTreeMap/VoiceFAQ/internal/genai"
)

const chatSystemPrompt = `You are a helpful assistant for the Huberman Lab podcast.
You help answer questions about the podcast, Dr. Andrew Huberman, and related topics.
If you don't know something specific about Huberman Lab, suggest relevant resources or links.
Keep responses concise and friendly.`

// EmptyChatReply is returned when the model answers with nothing.
const EmptyChatReply = "I couldn't generate a response."

var chatOptions = genai.CompletionOptions{Temperature: 0.7, MaxTokens: 500}

// chatResources maps words in a free-form answer to site pages.
var chatResources = []struct {
	words []string
	url   string
}{
	{[]string{"newsletter"}, "https://www.hubermanlab.com/newsletter"},
	{[]string{"premium"}, "https://www.hubermanlab.com/premium"},
	{[]string{"episodes", "podcast"}, "https://www.hubermanlab.com/all-episodes"},
}

// Responder answers questions the corpus does not cover.
type Responder struct {
	llm Completer
}

// NewResponder creates a Responder.
func NewResponder(llm Completer) *Responder {
	return &Responder{llm: llm}
}

// Answer asks the model directly and lists site pages the answer mentions.
func (r *Responder) Answer(ctx context.Context, message string) (string, []string, error) {
	reply, err := r.llm.GenerateCompletion(ctx, []genai.Message{genai.System(chatSystemPrompt), genai.User(message)}, chatOptions)
	if err != nil {
		return "", nil, fmt.Errorf("chat completion: %w", err)
	}
	if reply == "" {
		reply = EmptyChatReply
	}
	return reply, ChatResources(reply), nil
}

// ChatResources returns the site pages a free-form answer refers to.
func ChatResources(text string) []string {
	lower := strings.ToLower(text)
	resources := []string{}
	for _, r := range chatResources {
		for _, w := range r.words {
			if strings.Contains(lower, w) {
				resources = append(resources, r.url)
				break
			}
		}
	}
	return resources
}
