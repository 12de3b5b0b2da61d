// Package reembed regenerates the embeddings of every document in the
// knowledge store.
//
// This is the maintenance path for switching embedding models: each
// document's chunks are read back, re-embedded in batches with retry, and
// rewritten through the store's atomic visibility flip, so searches keep
// working throughout. The replacement model must produce vectors of the
// same dimension as the store was built with; migrating to a different
// dimension requires re-ingesting into a fresh store.
package reembed
