package faq

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/VoiceFAQ/internal/genai"
)

// historyWindow is the number of non-system messages included as context (two exchanges).
const historyWindow = 4

const matchSystemPrompt = `You match user questions to entries in an FAQ list.
Understand meaning and intent; tolerate typos, rephrasing and casual wording.
Match generously when the user is clearly asking about a topic the FAQs cover.
Use the recent conversation to interpret follow-ups such as "tell me more" or "what about X".`

const matchInstructions = `Instructions:
- For a good match, reply in exactly this format:
  MATCH:NUMBER
  NATURAL:a friendly spoken version of the answer, at most 2-3 sentences
- For a partial or uncertain match, reply:
  PARTIAL:NUMBER
  NATURAL:a spoken version of the answer
- If the question is about Dr. Huberman's background, education, research or achievements and no FAQ fits,
  answer from the Additional Context using:
  CONTEXT
  NATURAL:a spoken answer of at most 2-3 sentences
- If nothing relevant exists and the question is not about Dr. Huberman, reply with only "none"
- Judge by intent, not exact wording
- Keep facts accurate but phrase them for natural speech`

const streamSystemPrompt = `You are the assistant on the Huberman Lab podcast website, answering from an FAQ database.
When a question matches an FAQ, give the answer in a natural, voice-friendly way.
When nothing matches, begin with [NO_MATCH] and then decline politely in one short sentence.
Keep replies short enough to be spoken aloud.
Use [NO_MATCH] only when neither the FAQs nor the context cover the question.`

const streamInstructions = `Instructions:
- For a good match, begin with [FAQ:NUMBER] and then give a conversational version of the answer (2-3 sentences at most)
- Never read URLs aloud; say things like "using the form" or "through the link provided" instead
- For questions about Dr. Huberman's background with no matching FAQ, use the Additional Context
- When nothing relevant exists, begin with [NO_MATCH] and decline in one brief sentence
- Sound friendly and natural for voice
- Do not mention FAQ numbers in the spoken reply
- Put the reply directly after the marker`

const declineSystemPrompt = `You are the assistant on the Huberman Lab podcast website.
The user's question is not covered by the FAQs. Write a very short, natural decline:
1. Say politely that you don't have that information
2. Use one short sentence
3. Vary the wording from reply to reply
4. Do not list the topics you can help with
5. Make it sound natural when spoken
6. Acknowledge earlier conversation lightly if there is any

Good examples:
- "I don't have information about that."
- "That's outside what I can help with."
- "I'm not able to answer that one."
- "I don't have details on that topic."
- "That specific detail isn't in my FAQs."`

// buildFAQList renders the numbered corpus followed by the knowledge-base appendix.
func buildFAQList(c *Corpus) string {
	var b strings.Builder
	for i, e := range c.Entries() {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. Q: %s\n   A: %s", e.Number, e.Question, e.Answer)
	}
	if len(c.KnowledgeBase) > 0 {
		b.WriteString("\n\nAdditional Context about Dr. Huberman:\n")
		for _, topic := range c.KnowledgeTopics() {
			fmt.Fprintf(&b, "%s: %s\n\n", topic, c.KnowledgeBase[topic])
		}
	}
	return b.String()
}

// recentHistory renders the last exchanges, skipping system messages.
func recentHistory(history []genai.Message) string {
	var recent []genai.Message
	for _, m := range history {
		if m.Role != genai.RoleSystem {
			recent = append(recent, m)
		}
	}
	if len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}
	if len(recent) == 0 {
		return ""
	}
	lines := make([]string, len(recent))
	for i, m := range recent {
		lines[i] = fmt.Sprintf("%s: %s", m.Role, m.Content)
	}
	return "\nRecent conversation:\n" + strings.Join(lines, "\n") + "\n\n"
}

func buildUserPrompt(faqList, question string, history []genai.Message, instructions string) string {
	return fmt.Sprintf("Find the best matching FAQ for this user question.\n%sCurrent user asks: %q\n\nAvailable FAQs:\n%s\n\n%s",
		recentHistory(history), question, faqList, instructions)
}

func buildDeclinePrompt(question string, history []genai.Message) string {
	var context string
	if len(history) > 2 {
		context = "\nContext: User has been asking about related topics.\n"
	}
	return fmt.Sprintf("%sUser asked: %q\n\nWrite a brief, natural decline (one sentence).", context, question)
}
