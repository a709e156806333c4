// Package links turns FAQ answer text into clickable resources for the widget.
package links

import (
	"regexp"
	"strings"
)

// Link types.
const (
	TypeURL         = "url"
	TypePlaceholder = "placeholder"
)

// Link is a resource surfaced next to a spoken answer.
type Link struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Href string `json:"href,omitempty"`
}

var (
	domainPattern = regexp.MustCompile(`(?:https?://)?(?:www\.)?[a-zA-Z0-9-]+(?:\.[a-zA-Z]{2,})+(?:/[^\s]*)*`)
	abbreviation  = regexp.MustCompile(`(?i)^(?:Ph\.D|M\.D|Dr\.|Mr\.|Ms\.|Mrs\.|Prof\.|Inc\.|Ltd\.|LLC)`)
	trailingPunct = regexp.MustCompile(`[.,;!?]$`)
	schemeAndWWW  = regexp.MustCompile(`^https?://(?:www\.)?`)
	scheme        = regexp.MustCompile(`^https?://`)
)

const airtableDefault = "Submission Form"

// airtableForms labels known Airtable forms by app id.
var airtableForms = []struct {
	appID string
	label string
}{
	{"app3khvqyh3rdqa5g", "Guest Suggestion Form"},
	{"app9yIGPaaYyDlhxz", "Sponsorship Form"},
	{"appzMBzeGsDceqhoE", "Speaking Request Form"},
	{"appDg88FrbCxePxpG", "Podcast Invitation Form"},
}

// vaguePhrases map wording that refers to a link without spelling it out.
var vaguePhrases = []struct {
	pattern *regexp.Regexp
	url     string
}{
	{regexp.MustCompile(`(?i)join the Neural Network newsletter`), "https://www.hubermanlab.com/newsletter"},
	{regexp.MustCompile(`(?i)join our email list`), "https://www.hubermanlab.com/events"},
	{regexp.MustCompile(`(?i)available here`), "https://www.hubermanlab.com/newsletter"},
	{regexp.MustCompile(`(?i)review these help articles`), "https://support.supercast.com/category/53-subscriber-support"},
	{regexp.MustCompile(`(?i)Stanford lab website.*publications`), "https://hubermanlab.stanford.edu/publications"},
	{regexp.MustCompile(`(?i)Stanford lab website.*research`), "https://hubermanlab.stanford.edu/giving"},
	{regexp.MustCompile(`(?i)Stanford lab website`), "https://hubermanlab.stanford.edu/"},
}

// Extract returns the links found in answer, explicit domains first and then
// canonical URLs for vague phrasings. No href appears twice.
func Extract(answer string) []Link {
	var out []Link
	seen := map[string]bool{}
	add := func(l Link) {
		if seen[l.Href] {
			return
		}
		seen[l.Href] = true
		out = append(out, l)
	}

	for _, match := range domainPattern.FindAllString(answer, -1) {
		if abbreviation.MatchString(match) {
			continue
		}
		clean := trailingPunct.ReplaceAllString(match, "")
		dot := strings.LastIndex(clean, ".")
		if dot < 0 || len(clean)-dot-1 < 2 {
			continue
		}
		href := clean
		if !strings.HasPrefix(href, "http") {
			href = "https://" + href
		}
		add(Link{Type: TypeURL, Text: displayText(clean, href), Href: href})
	}

	for _, v := range vaguePhrases {
		if v.pattern.MatchString(answer) {
			add(Link{Type: TypeURL, Text: scheme.ReplaceAllString(v.url, ""), Href: v.url})
		}
	}
	return out
}

func displayText(clean, href string) string {
	if !strings.Contains(href, "airtable.com") {
		return schemeAndWWW.ReplaceAllString(clean, "")
	}
	for _, f := range airtableForms {
		if strings.Contains(href, f.appID) {
			return f.label
		}
	}
	return airtableDefault
}

// KnownURLMappings maps bare references used in answers to their full URLs.
func KnownURLMappings() map[string]string {
	return map[string]string{
		"shop.hubermanlab.com":   "https://shop.hubermanlab.com",
		"hubermanlab.com/search": "https://hubermanlab.com/search",
		"www.supercast.com":      "https://www.supercast.com",
		"support@supercast.com":  "mailto:support@supercast.com",
	}
}
