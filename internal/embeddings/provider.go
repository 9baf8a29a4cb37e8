// Package embeddings provides embedding generation for signal and
// candidate text.
//
// The provider contract: embeddings are deterministic for a fixed
// (text, model) pair, calls may fail transiently and are retried with
// exponential backoff, and every call has a cost, so results are cached
// by (text hash, model) via CachedProvider.
package embeddings

import (
	"context"
	"errors"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrProviderFailed indicates embedding generation failure after
	// retries were exhausted. Callers degrade rather than abort: ingest
	// creates an embedding-less candidate and discovery skips the batch.
	ErrProviderFailed = errors.New("embedding generation failed")

	// ErrDimensionMismatch indicates the provider returned vectors of an
	// unexpected size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Provider is the interface for embedding providers.
type Provider interface {
	// EmbedDocuments generates embeddings for multiple texts.
	// Returns one vector per input text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// Model returns the model identifier. Embeddings from different
	// models are never comparable; cache keys include the model.
	Model() string
}
