// Package synthesis converts final transcripts into audio clips.
//
// A Provider opens one text-to-speech request and exposes the response as a
// stream. The Client bounds concurrency, applies a per-request timeout,
// retries failures that happened before any audio arrived, and reads the
// stream into a single Clip. Providers are available for OpenAI
// (go-openai), ElevenLabs (HTTP streaming endpoint) and Google Cloud
// Text-to-Speech.
package synthesis
