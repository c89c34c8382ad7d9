// Package provider defines the uniform adapter contract every LLM backend
// implements, the capability metadata describing each backend, and the
// registry that resolves provider identifiers to adapters.
//
// Adding a new backend means adding one adapter package and one registry
// entry; nothing above the adapter boundary branches on backend type.
package provider
