package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value    string
		def      bool
		expected bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("VOICEFAQ_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("VOICEFAQ_TEST_BOOL", tt.def); got != tt.expected {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.expected)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("VOICEFAQ_TEST_INT", " 250 ")
	if got := ParseIntEnv("VOICEFAQ_TEST_INT", 10); got != 250 {
		t.Errorf("expected 250, got %d", got)
	}
	t.Setenv("VOICEFAQ_TEST_INT", "many")
	if got := ParseIntEnv("VOICEFAQ_TEST_INT", 10); got != 10 {
		t.Errorf("expected default for invalid value, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("VOICEFAQ_TEST_DURATION", "90m")
	if got := ParseDurationEnv("VOICEFAQ_TEST_DURATION", time.Hour); got != 90*time.Minute {
		t.Errorf("expected 90m, got %v", got)
	}
	for _, bad := range []string{"soon", "-5m"} {
		t.Setenv("VOICEFAQ_TEST_DURATION", bad)
		if got := ParseDurationEnv("VOICEFAQ_TEST_DURATION", time.Hour); got != time.Hour {
			t.Errorf("%q: expected default, got %v", bad, got)
		}
	}
}
