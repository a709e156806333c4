package feedback

import (
	"regexp"
	"strconv"
	"strings"
)

var ratingNumber = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\b`)

// ratingWords is checked in ascending order; the first word found wins.
var ratingWords = []string{"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine", "ten"}

var skipPhrases = []string{
	"skip",
	"pass",
	"next question",
	"move on",
	"don't know",
	"not sure",
	"rather not say",
	"prefer not to answer",
	"end",
	"stop",
	"quit",
	"done",
	"finish",
}

// ExtractRating reads a 0-10 rating from digits or English number words.
// A digit value outside the range means no rating.
func ExtractRating(text string) (float64, bool) {
	lower := strings.ToLower(text)
	if m := ratingNumber.FindStringSubmatch(lower); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v < 0 || v > 10 {
			return 0, false
		}
		return v, true
	}
	for n, w := range ratingWords {
		if strings.Contains(lower, w) {
			return float64(n), true
		}
	}
	return 0, false
}

// DetectSkipIntent reports whether the user wants to skip the question or stop.
func DetectSkipIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range skipPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
