package blob

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const scheme = "blob://"

var (
	// ErrRevoked is returned when opening a handle that was released.
	ErrRevoked = errors.New("blob handle revoked")
	// ErrInvalidHandle is returned for strings that are not blob handles.
	ErrInvalidHandle = errors.New("invalid blob handle")
)

// Handle references encoded bytes held by a Registry.
type Handle string

func (h Handle) String() string {
	return string(h)
}

// Blob is an immutable byte payload with its mime type.
type Blob struct {
	Data      []byte
	MimeType  string
	CreatedAt time.Time
}

// Size returns the payload length in bytes.
func (b Blob) Size() int {
	return len(b.Data)
}

// Registry turns in-memory audio into handles that can be opened until
// revoked.
type Registry struct {
	mu    sync.RWMutex
	blobs map[Handle]Blob
}

func NewRegistry() *Registry {
	return &Registry{blobs: make(map[Handle]Blob)}
}

// Create stores data under a new handle. The registry keeps its own copy.
func (r *Registry) Create(data []byte, mime string) Handle {
	h := Handle(scheme + uuid.NewString())
	b := Blob{
		Data:      append([]byte(nil), data...),
		MimeType:  mime,
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	r.blobs[h] = b
	r.mu.Unlock()

	slog.Debug("Blob created", "handle", h, "bytes", len(data), "mime", mime)
	return h
}

// Open returns the blob behind h.
func (r *Registry) Open(h Handle) (Blob, error) {
	if !strings.HasPrefix(string(h), scheme) {
		return Blob{}, ErrInvalidHandle
	}
	r.mu.RLock()
	b, ok := r.blobs[h]
	r.mu.RUnlock()
	if !ok {
		return Blob{}, ErrRevoked
	}
	return b, nil
}

// Revoke releases the bytes behind h. Revoking twice is harmless.
func (r *Registry) Revoke(h Handle) {
	r.mu.Lock()
	_, ok := r.blobs[h]
	delete(r.blobs, h)
	r.mu.Unlock()

	if ok {
		slog.Debug("Blob revoked", "handle", h)
	}
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}
