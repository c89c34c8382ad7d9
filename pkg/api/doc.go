// Package api defines the provider-agnostic chat types shared by every
// layer of the chorus gateway.
//
// This package provides the uniform request/response/chunk shapes that all
// provider adapters translate to and from, the shared error taxonomy, the
// inbound streaming event format, and request validation.
//
// The package has zero external dependencies (Go standard library only) and
// performs no I/O.
//
// Core types:
//   - [ChatMessage]: One turn of a conversation (system, user, or assistant)
//   - [ChatRequest]: A uniform chat request targeting a single provider
//   - [ChatResponse]: The complete result of a blocking chat call
//   - [ChatChunk]: One increment of a streamed response, terminal or not
//   - [Error]: Structured error carrying a stable classification
package api
