// Package playback plays synthesized clips on the client without overlap.
// Queue serializes clips behind a Player. SilentPlayer only keeps time; the
// sound card player lives in the speaker subpackage.
package playback
