package pub

import "context"

// Controller persists published batches. It backs the ledger transport, which
// stores every message as a document addressed by its topic offset.
type Controller interface {
	// ReserveOffsets atomically advances the write offset of a topic by n and
	// returns the first reserved offset.
	ReserveOffsets(ctx context.Context, topic string, n int) (uint64, error)

	// InsertMessage stores a single message document. Inserting a document
	// that already exists returns an error wrapping gocb.ErrDocumentExists.
	InsertMessage(ctx context.Context, msg StoredMessage) error
}
