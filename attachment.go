package pmbox

import (
	"context"
	"fmt"
	"io"

	"github.com/pmbox/pmbox/store"
)

// attachmentManager pairs a metadata store with a file store and keeps
// the reference counts honest between them.
type attachmentManager struct {
	metadata store.AttachmentMetadataStore
	files    store.AttachmentFileStore
}

// NewAttachmentManager builds a reference-counting attachment manager.
//
// Upload deliberately leaves the reference count at zero: the send
// fan-out calls AddRef once per message row that carries the
// attachment, so one uploaded file backs every recipient's copy.
func NewAttachmentManager(metadata store.AttachmentMetadataStore, files store.AttachmentFileStore) store.AttachmentManager {
	return &attachmentManager{
		metadata: metadata,
		files:    files,
	}
}

// Upload stores the content and its metadata. A hash match short
// circuits to the existing metadata without touching the file store.
func (m *attachmentManager) Upload(ctx context.Context, filename, contentType, hash string, content io.Reader) (store.AttachmentMetadata, error) {
	if hash != "" {
		if existing, err := m.metadata.GetByHash(ctx, hash); err == nil {
			return existing, nil
		}
	}

	uri, err := m.files.Upload(ctx, filename, contentType, content)
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}

	meta := m.metadata.NewAttachmentMetadata()
	meta.SetFilename(filename)
	meta.SetContentType(contentType)
	meta.SetURI(uri)
	meta.SetHash(hash)
	meta.SetRefCount(0)

	if err := m.metadata.Create(ctx, meta); err != nil {
		_ = m.files.Delete(ctx, uri)
		return nil, fmt.Errorf("create metadata: %w", err)
	}
	return meta, nil
}

func (m *attachmentManager) Load(ctx context.Context, id string) (io.ReadCloser, error) {
	meta, err := m.metadata.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	return m.files.Load(ctx, meta.GetURI())
}

func (m *attachmentManager) AddRef(ctx context.Context, id string) error {
	return m.metadata.IncrementRef(ctx, id)
}

// RemoveRef releases one reference. The decrement and the metadata
// delete happen in one store call, so concurrent releases cannot both
// observe the final reference. The file delete follows; if it fails the
// worst case is an orphaned object, never a dangling metadata row.
func (m *attachmentManager) RemoveRef(ctx context.Context, id string) error {
	deleted, uri, err := m.metadata.DecrementRefAndDeleteIfZero(ctx, id)
	if err != nil {
		return fmt.Errorf("release attachment: %w", err)
	}
	if deleted && uri != "" {
		if err := m.files.Delete(ctx, uri); err != nil {
			return fmt.Errorf("delete file: %w", err)
		}
	}
	return nil
}
