// Package upload keeps files operators upload ahead of a certificate
// install. Uploads belong to the uploading account and expire after a TTL.
package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"certd/internal/cache"
	certderrors "certd/internal/errors"
)

// Fetcher resolves an attachment reference to its bytes.
type Fetcher interface {
	Fetch(ctx context.Context, accountID, attachmentID, authToken string) ([]byte, error)
}

// Upload describes a stored attachment.
type Upload struct {
	AttachmentID string    `json:"aid"`
	Filename     string    `json:"filename"`
	Size         int       `json:"size"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type stored struct {
	accountID string
	filename  string
	data      []byte
}

// Store is an in-memory Fetcher.
type Store struct {
	entries  *cache.Cache
	maxBytes int64
	stop     chan struct{}
}

func NewStore(ttl time.Duration, maxBytes int64) *Store {
	return &Store{
		entries:  cache.New(ttl),
		maxBytes: maxBytes,
		stop:     make(chan struct{}),
	}
}

// StartCleanup removes expired uploads every interval until Close.
func (s *Store) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.entries.Cleanup()
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *Store) Close() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

func key(accountID, attachmentID string) string {
	return accountID + "/" + attachmentID
}

// Put stores data for accountID and returns the new attachment.
func (s *Store) Put(accountID, filename string, data []byte) (Upload, error) {
	if accountID == "" {
		return Upload{}, certderrors.ErrUnauthorized
	}
	if int64(len(data)) > s.maxBytes {
		return Upload{}, fmt.Errorf("%w: %d bytes, limit %d", certderrors.ErrUploadTooLarge, len(data), s.maxBytes)
	}
	id := uuid.NewString()
	copied := append([]byte(nil), data...)
	expiresAt := s.entries.Set(key(accountID, id), stored{accountID: accountID, filename: filename, data: copied})
	return Upload{AttachmentID: id, Filename: filename, Size: len(copied), ExpiresAt: expiresAt}, nil
}

// Fetch returns the bytes of an attachment owned by accountID. Attachments
// of other accounts are reported as missing.
func (s *Store) Fetch(_ context.Context, accountID, attachmentID, _ string) ([]byte, error) {
	v, ok := s.entries.Get(key(accountID, attachmentID))
	if !ok {
		return nil, fmt.Errorf("%w: upload %s", certderrors.ErrNotFound, attachmentID)
	}
	entry := v.(stored)
	return append([]byte(nil), entry.data...), nil
}

// Len reports stored uploads, expired ones included until cleanup.
func (s *Store) Len() int {
	return s.entries.Len()
}
