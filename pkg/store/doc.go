// Package store defines the transport contract between the model engine and
// the remote JSON document store, plus the Redis implementation. Documents
// are whole JSON values addressed by key; fields within a document are
// addressed by a JSONPath pointer. Writes are expressed as Commands so the
// same operation can be applied immediately or queued into an atomic batch.
package store
