// Package engine defines the transcription engine contract the daemon drives
// and ships the WhisperX implementation.
//
// An Engine is loaded once at daemon start, used for one transcription at a
// time, and unloaded when the daemon shuts down. WhisperX runs as a
// subprocess (normally through uvx) that writes a JSON transcript into a
// private work directory; the engine parses that file into Result and removes
// the directory before returning.
package engine
