package language

import (
	"errors"
	"fmt"
	"strings"

	xlang "golang.org/x/text/language"
)

// Auto requests language detection.
const Auto = "auto"

// ErrUnknown reports a value that names no known language.
var ErrUnknown = errors.New("unknown language")

// words maps English language names to ISO 639-1 codes.
var words = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"russian":    "ru",
	"arabic":     "ar",
	"hindi":      "hi",
	"dutch":      "nl",
	"polish":     "pl",
	"swedish":    "sv",
	"danish":     "da",
	"norwegian":  "no",
	"finnish":    "fi",
	"ukrainian":  "uk",
	"turkish":    "tr",
}

// bibliographic holds ISO 639-2/B codes that differ from the terminology
// codes x/text knows.
var bibliographic = map[string]string{
	"chi": "zh",
	"cze": "cs",
	"dut": "nl",
	"fre": "fr",
	"ger": "de",
	"gre": "el",
	"per": "fa",
	"rum": "ro",
}

// Normalize returns the ISO 639-1 code for value, or "" when value asks for
// detection. Languages x/text knows without a two-letter code keep their
// three-letter code. Undetermined, multiple, no-content and private-use codes
// are rejected.
func Normalize(value string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" || v == Auto {
		return "", nil
	}
	if code, ok := words[v]; ok {
		return code, nil
	}
	if code, ok := bibliographic[v]; ok {
		return code, nil
	}
	tag, err := xlang.Parse(strings.ReplaceAll(v, "_", "-"))
	if err != nil || tag.IsRoot() {
		return "", fmt.Errorf("%w %q", ErrUnknown, value)
	}
	base, confidence := tag.Base()
	code := base.String()
	if confidence < xlang.High || reserved(code) {
		return "", fmt.Errorf("%w %q", ErrUnknown, value)
	}
	return code, nil
}

// reserved reports ISO 639 codes that name no spoken language.
func reserved(code string) bool {
	switch code {
	case "und", "mul", "mis", "zxx":
		return true
	}
	return len(code) == 3 && code >= "qaa" && code <= "qtz"
}

// ToISO2 is Normalize without the error: unknown values become "".
func ToISO2(value string) string {
	code, err := Normalize(value)
	if err != nil {
		return ""
	}
	return code
}
