// Package openaicompat provides shared wire code for any OpenAI-compatible
// Chat Completions backend. It handles request serialization, response
// parsing, streaming via the shared normalizer, and error classification
// into the api taxonomy.
//
// Provider adapters (openai, deepseek, and any future compatible backend)
// embed the Client from this package and delegate their Chat/StreamChat/
// Models calls to it.
package openaicompat
