package faq

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrUnparseableMatch is returned when a matcher reply fits none of the marker forms.
	ErrUnparseableMatch = errors.New("unparseable FAQ match response")
	// ErrMatchOutOfRange is returned when a reply names an FAQ number the corpus does not have.
	ErrMatchOutOfRange = errors.New("FAQ match number out of range")
)

// ReplyKind identifies which marker form a blocking matcher reply used.
type ReplyKind int

const (
	ReplyNone ReplyKind = iota
	ReplyMatch
	ReplyPartial
	ReplyContext
	ReplyNumber
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyMatch:
		return "match"
	case ReplyPartial:
		return "partial"
	case ReplyContext:
		return "context"
	case ReplyNumber:
		return "number"
	default:
		return "none"
	}
}

// ParsedReply is the structured form of a blocking matcher reply.
type ParsedReply struct {
	Kind    ReplyKind
	Number  int
	Natural string
}

var leadingDigits = regexp.MustCompile(`^\s*(\d+)`)

// ParseMatchReply parses the MATCH/PARTIAL/CONTEXT/none grammar. The first line
// carries the marker; an optional second line carries NATURAL:<text>. A bare
// number on its own is accepted as a direct match without a natural answer.
func ParseMatchReply(reply string) (ParsedReply, error) {
	reply = strings.TrimSpace(reply)
	if strings.EqualFold(reply, "none") {
		return ParsedReply{Kind: ReplyNone}, nil
	}

	lines := strings.Split(reply, "\n")
	head := strings.ToUpper(strings.TrimSpace(lines[0]))
	var natural string
	if len(lines) > 1 {
		natural = parseNatural(lines[1])
	}

	switch {
	case head == "CONTEXT":
		return ParsedReply{Kind: ReplyContext, Natural: natural}, nil
	case strings.HasPrefix(head, "MATCH:"):
		n, err := parseNumber(strings.TrimPrefix(head, "MATCH:"))
		if err != nil {
			return ParsedReply{}, err
		}
		return ParsedReply{Kind: ReplyMatch, Number: n, Natural: natural}, nil
	case strings.HasPrefix(head, "PARTIAL:"):
		n, err := parseNumber(strings.TrimPrefix(head, "PARTIAL:"))
		if err != nil {
			return ParsedReply{}, err
		}
		return ParsedReply{Kind: ReplyPartial, Number: n, Natural: natural}, nil
	}

	n, err := parseNumber(reply)
	if err != nil {
		return ParsedReply{}, err
	}
	return ParsedReply{Kind: ReplyNumber, Number: n, Natural: natural}, nil
}

func parseNatural(line string) string {
	line = strings.TrimSpace(line)
	if len(line) >= len("NATURAL:") && strings.EqualFold(line[:len("NATURAL:")], "NATURAL:") {
		return strings.TrimSpace(line[len("NATURAL:"):])
	}
	return ""
}

func parseNumber(s string) (int, error) {
	m := leadingDigits.FindStringSubmatch(s)
	if m == nil {
		return 0, ErrUnparseableMatch
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, ErrUnparseableMatch
	}
	return n, nil
}

// Streaming markers.
const (
	NoMatchMarker   = "[NO_MATCH]"
	GeneralCategory = "General"

	// maxMarkerLen bounds how much leading text is held back while a marker is resolved.
	maxMarkerLen = 32
)

var (
	faqMarker     = regexp.MustCompile(`^\[FAQ:(\d+)\]`)
	anyMarker     = regexp.MustCompile(`^\[(?:NO_MATCH|FAQ:[^\]]*)\]`)
	markerOpening = []string{"[NO_MATCH]", "[FAQ:"}
)

// Metadata describes a completed streaming reply for analytics and link extraction.
type Metadata struct {
	Matched        bool   `json:"matched"`
	Category       string `json:"category,omitempty"`
	CleanResponse  string `json:"cleanResponse"`
	FAQNumber      int    `json:"faqNumber,omitempty"`
	OriginalAnswer string `json:"originalAnswer,omitempty"`
}

var declinePhrases = []string{
	"don't have information",
	"can't help with",
	"not able to answer",
	"outside what i can",
	"don't have details",
	"not something i can",
	"don't have more information",
	"specific detail isn't",
	"not equipped to",
	"unable to provide",
	"can't provide",
	"not in my knowledge",
	"beyond my scope",
	"outside my expertise",
	"that's not something",
	"i focus on",
	"i'm here to help with",
}

// categoryHints guess a category from reply text, checked in order.
var categoryHints = []struct {
	category string
	words    []string
}{
	{"Huberman Lab", []string{"podcast", "episode"}},
	{"Huberman Lab Premium", []string{"premium", "subscriber"}},
	{"Neural Network Newsletter", []string{"newsletter", "neural network"}},
	{"Huberman Lab Live Events", []string{"event", "live"}},
	{"Sponsors & Partners", []string{"sponsor", "partner"}},
	{"Protocols Book", []string{"protocols", "book"}},
	{"About Dr. Huberman", []string{"dr. huberman", "andrew"}},
}

// ExtractMetadata classifies a complete streaming reply. Markers are honoured
// first; when they are missing the reply is checked for decline wording and
// then given a keyword-based category guess.
func ExtractMetadata(c *Corpus, response string) Metadata {
	response = strings.TrimLeft(response, " \t\r\n")
	if response == "" {
		return Metadata{}
	}

	if strings.HasPrefix(response, NoMatchMarker) {
		return Metadata{CleanResponse: strings.TrimSpace(strings.TrimPrefix(response, NoMatchMarker))}
	}

	if m := faqMarker.FindStringSubmatch(response); m != nil {
		clean := strings.TrimSpace(response[len(m[0]):])
		if n, err := strconv.Atoi(m[1]); err == nil && c != nil {
			if e, ok := c.Entry(n); ok {
				return Metadata{
					Matched:        true,
					Category:       e.Category,
					CleanResponse:  clean,
					FAQNumber:      n,
					OriginalAnswer: e.Answer,
				}
			}
		}
		response = clean
	} else if loc := anyMarker.FindStringIndex(response); loc != nil {
		response = strings.TrimSpace(response[loc[1]:])
	}

	lower := strings.ToLower(response)
	for _, p := range declinePhrases {
		if strings.Contains(lower, p) {
			return Metadata{CleanResponse: response}
		}
	}

	category := GeneralCategory
hints:
	for _, h := range categoryHints {
		for _, w := range h.words {
			if strings.Contains(lower, w) {
				category = h.category
				break hints
			}
		}
	}
	return Metadata{Matched: true, Category: category, CleanResponse: response}
}

// splitLeadingMarker inspects the start of a streamed reply. It reports
// resolved=false while buf could still be the beginning of a marker; once
// resolved, rest is the text that should be spoken.
func splitLeadingMarker(buf string, final bool) (rest string, resolved bool) {
	trimmed := strings.TrimLeft(buf, " \t\r\n")
	if trimmed == "" {
		return "", final
	}
	if loc := anyMarker.FindStringIndex(trimmed); loc != nil {
		return strings.TrimLeft(trimmed[loc[1]:], " \t\r\n"), true
	}
	if final || len(trimmed) >= maxMarkerLen || !couldBeMarker(trimmed) {
		return trimmed, true
	}
	return "", false
}

func couldBeMarker(s string) bool {
	for _, m := range markerOpening {
		if strings.HasPrefix(m, s) {
			return true
		}
		if strings.HasPrefix(s, m) && !strings.Contains(s, "]") {
			return true
		}
	}
	return false
}
