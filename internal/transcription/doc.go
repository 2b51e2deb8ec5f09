// Package transcription manages live speech-to-text streams.
// It dials Deepgram-compatible websockets, tracks their ready state, keeps them
// alive with heartbeats, replaces closed streams on the next write and decodes
// provider messages into transcript events.
package transcription
