package language

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"auto", ""},
		{" AUTO ", ""},
		{"en", "en"},
		{"EN", "en"},
		{"eng", "en"},
		{"en-US", "en"},
		{"en_gb", "en"},
		{"fra", "fr"},
		{"fre", "fr"},
		{"ger", "de"},
		{"zh-Hant", "zh"},
		{"english", "en"},
		{"French", "fr"},
		{"GERMAN", "de"},
		{"haw", "haw"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.input)
		if err != nil {
			t.Fatalf("Normalize(%q) returned error: %v", tt.input, err)
		}
		if got != tt.expected {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestNormalizeRejectsUnknown(t *testing.T) {
	for _, input := range []string{
		"klingonese", "zzzz", "und", "UND", "root", "und-US", "12", "en--us",
		"mul", "mis", "zxx", "qaa", "qtz",
	} {
		if _, err := Normalize(input); !errors.Is(err, ErrUnknown) {
			t.Errorf("Normalize(%q) error = %v, want ErrUnknown", input, err)
		}
	}
}

func TestToISO2(t *testing.T) {
	if got := ToISO2("spanish"); got != "es" {
		t.Fatalf("ToISO2(spanish) = %q", got)
	}
	if got := ToISO2("nonsense-language"); got != "" {
		t.Fatalf("ToISO2(nonsense) = %q", got)
	}
}
