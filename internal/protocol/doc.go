// Package protocol implements the websocket framing between clients and the voice relay server.
// Audio travels in binary frames prefixed with a type byte; captions, greetings and
// playback reports travel as JSON text frames keyed by event name.
package protocol
