// Package manifest persists the per-book manifest that readers use to
// enumerate chapters. A manifest exists only for ready books and is written
// in one atomic replacement, so readers never observe a partial one.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/inkvoice/inkvoice/internal/storage"
	"github.com/inkvoice/inkvoice/internal/util"
	"github.com/inkvoice/inkvoice/pkg/types"
)

// Store reads and writes book manifests.
type Store struct {
	storage storage.Adapter
}

// NewStore creates a manifest store over the given storage adapter.
func NewStore(adapter storage.Adapter) *Store {
	return &Store{storage: adapter}
}

// totalsTolerance allows for millisecond rounding of chapter durations.
const totalsTolerance = 0.005

// Write validates and persists the manifest for a book. Totals must agree
// with the chapter entries; a manifest that lies about its contents is a
// pipeline bug and must not reach readers.
func (s *Store) Write(ctx context.Context, m *types.Manifest) error {
	if m.BookID == "" {
		return fmt.Errorf("manifest has no book ID")
	}
	if len(m.Chapters) == 0 {
		return fmt.Errorf("manifest for book %s has no chapters", m.BookID)
	}
	if m.TotalChapters != len(m.Chapters) {
		return fmt.Errorf("manifest for book %s claims %d chapters but lists %d",
			m.BookID, m.TotalChapters, len(m.Chapters))
	}

	var duration float64
	var words int
	for _, ch := range m.Chapters {
		duration += ch.Duration
		words += ch.Words
	}
	if math.Abs(duration-m.TotalDuration) > totalsTolerance*float64(len(m.Chapters)) {
		return fmt.Errorf("manifest for book %s claims %.3fs total but chapters sum to %.3fs",
			m.BookID, m.TotalDuration, duration)
	}
	if words != m.TotalWords {
		return fmt.Errorf("manifest for book %s claims %d words but chapters sum to %d",
			m.BookID, m.TotalWords, words)
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	return s.storage.Put(ctx, util.ManifestPath(m.BookID), bytes.NewReader(data))
}

// Get retrieves the manifest for a book. Storage errors pass through, which
// lets callers distinguish a missing manifest from a broken backend.
func (s *Store) Get(ctx context.Context, bookID string) (*types.Manifest, error) {
	reader, err := s.storage.Get(ctx, util.ManifestPath(bookID))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var m types.Manifest
	if err := json.NewDecoder(reader).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest for book %s: %w", bookID, err)
	}
	return &m, nil
}

// Exists reports whether a manifest has been published for a book.
func (s *Store) Exists(ctx context.Context, bookID string) (bool, error) {
	return s.storage.Exists(ctx, util.ManifestPath(bookID))
}
