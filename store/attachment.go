package store

import (
	"context"
	"io"
	"time"
)

// AttachmentMetadata extends Attachment with reference tracking. Send
// fan-out shares one uploaded file across every per-recipient row, so
// the file may only be removed once no row references it.
type AttachmentMetadata interface {
	Attachment

	// GetHash returns the content hash used for deduplication.
	GetHash() string

	// GetRefCount returns how many message rows reference this attachment.
	GetRefCount() int
}

// MutableAttachmentMetadata adds setters for store implementations that
// build metadata records.
type MutableAttachmentMetadata interface {
	AttachmentMetadata

	SetID(id string)
	SetFilename(filename string)
	SetContentType(contentType string)
	SetSize(size int64)
	SetURI(uri string)
	SetHash(hash string)
	SetRefCount(count int)
	SetCreatedAt(t time.Time)
}

// AttachmentMetadataStore persists attachment metadata and its reference
// count. Counting rows lets a purge release the file exactly when the
// last referencing row is destroyed.
type AttachmentMetadataStore interface {
	// Create stores new metadata with a reference count of zero.
	Create(ctx context.Context, meta MutableAttachmentMetadata) error

	// Get retrieves metadata by attachment ID.
	Get(ctx context.Context, id string) (MutableAttachmentMetadata, error)

	// GetByHash looks up metadata by content hash, ErrNotFound when absent.
	GetByHash(ctx context.Context, hash string) (MutableAttachmentMetadata, error)

	// IncrementRef atomically bumps the reference count, once per message
	// row created with the attachment.
	IncrementRef(ctx context.Context, id string) error

	// DecrementRefAndDeleteIfZero atomically decrements the count and,
	// when it reaches zero, deletes the metadata in the same operation.
	// Returns (true, uri) on deletion. Two concurrent releases must not
	// both observe count 1, so decrement and delete cannot be separate
	// round trips.
	DecrementRefAndDeleteIfZero(ctx context.Context, id string) (deleted bool, uri string, err error)

	// Delete removes metadata unconditionally. Caller guarantees the
	// count is already zero.
	Delete(ctx context.Context, id string) error

	// NewAttachmentMetadata returns an empty record for this store.
	NewAttachmentMetadata() MutableAttachmentMetadata
}

// AttachmentFileStore moves attachment bytes. S3, GCS, GridFS and the
// local filesystem all fit behind it.
type AttachmentFileStore interface {
	// Upload stores content and returns the URI to fetch it back.
	Upload(ctx context.Context, filename, contentType string, content io.Reader) (uri string, err error)

	// Load streams the content. The caller closes the reader.
	Load(ctx context.Context, uri string) (io.ReadCloser, error)

	// Delete removes the stored object.
	Delete(ctx context.Context, uri string) error
}

// AttachmentManager ties metadata and file storage together with
// reference-counted release. A hard delete calls RemoveRef per
// attachment of the destroyed row; the file disappears with the last
// reference.
type AttachmentManager interface {
	// Upload stores a file and creates metadata under the given hash.
	// When metadata with the same hash already exists it is returned
	// as-is and nothing is uploaded.
	Upload(ctx context.Context, filename, contentType, hash string, content io.Reader) (AttachmentMetadata, error)

	// Load streams the content of the attachment with the given ID.
	Load(ctx context.Context, id string) (io.ReadCloser, error)

	// AddRef records one more message row referencing the attachment.
	AddRef(ctx context.Context, id string) error

	// RemoveRef drops one reference; at zero the file and metadata are
	// deleted together.
	RemoveRef(ctx context.Context, id string) error
}
