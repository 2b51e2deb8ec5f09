// Package audio handles client audio aggregation and WAV clip inspection.
// The Aggregator batches small capture frames into larger chunks for the
// transcription stream; the WAV helpers describe synthesized clips.
package audio
