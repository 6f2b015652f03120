// Package language normalizes the language option of a transcription
// request to an ISO 639-1 code.
//
// Codes and tags are parsed with golang.org/x/text/language, so "en",
// "eng", "en-US" and "EN_us" all become "en". English word forms such as
// "german" are accepted as a convenience. "auto" and the empty string mean
// detect the language, and unknown values are rejected rather than passed to
// the engine.
package language
