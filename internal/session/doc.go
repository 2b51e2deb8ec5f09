// Package session relays one client connection through speech-to-text and
// text-to-speech.
//
// Each Session runs a single worker goroutine that owns the audio
// aggregator, the transcription connection manager and the transcript
// router, so provider events and client input are handled strictly in
// order. Final transcripts are synthesized in goroutines bound to the
// session; clips are numbered and delivered as they complete, and the
// client's playback queue keeps them from overlapping.
//
// The Manager keeps the registry of live sessions, enforces the session
// limit and tears down sessions that stop sending audio.
package session
