// Package client is the voice client side of the relay: it captures audio
// from a microphone or a WAV file, sends it to the server as packet-sent
// frames, prints captions and plays returned clips one at a time through a
// playback.Queue, reporting playback start and finish to the server.
package client
