// Package transport defines the handler interfaces and middleware chain for
// the chorus HTTP/SSE transport layer.
//
// The transport layer bridges external clients and the dispatch engine. It
// deserializes incoming requests into the core types defined in pkg/api,
// dispatches them, and serializes results back to the client in either
// synchronous (JSON) or streaming (SSE) format.
//
// # Handler Interfaces
//
// ChatService is the contract the HTTP adapter programs against: blocking
// dispatch, streaming dispatch, and provider probing. CredentialService
// covers stored-credential management, Modelcatalog the provider and model
// listing. The concrete implementations live in pkg/dispatch, pkg/credential,
// and pkg/provider.
//
// # Middleware
//
// The middleware chain wraps the blocking Dispatcher with cross-cutting
// concerns: panic recovery, request ID assignment (X-Request-ID), and
// structured logging via log/slog. Streaming dispatches are logged by the
// dispatch engine itself, where the full stream lifecycle is visible.
package transport
