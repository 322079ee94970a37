// Package memory provides long-term, user-namespaced memory for the agent.
//
// Records are free-text facts about a user (content plus the context in which
// they were learned), stored with an embedding and retrieved by similarity.
// Every operation is scoped to a Namespace of (tag, user id); a store never
// returns or mutates records outside the namespace it was given.
//
// Architecture:
//   - Store: vector storage backend (chromem-go embedded, or SQLite)
//   - Embedder: text-to-vector conversion (mock, Ollama, ONNX MiniLM)
//   - Manager: embeds queries and records, delegates to the Store
//
// Integration:
//   - generate step: Manager.Search over the last few conversation messages
//   - persist step: Manager.Save for each save_memory_record tool call
package memory
