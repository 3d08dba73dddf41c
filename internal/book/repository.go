package book

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"regexp"
	"time"

	"github.com/inkvoice/inkvoice/internal/storage"
	"github.com/inkvoice/inkvoice/internal/util"
	"github.com/inkvoice/inkvoice/pkg/types"
)

// Repository handles book metadata and chapter asset persistence
type Repository interface {
	// SaveBook stores book metadata
	SaveBook(ctx context.Context, book *types.Book) error

	// GetBook retrieves book metadata by ID
	GetBook(ctx context.Context, bookID string) (*types.Book, error)

	// UpdateBook updates book metadata, refreshing its updated_at stamp
	UpdateBook(ctx context.Context, book *types.Book) error

	// ListBooks returns all books
	ListBooks(ctx context.Context) ([]*types.Book, error)

	// DeleteBook removes a book's metadata and every asset under its prefix
	DeleteBook(ctx context.Context, bookID string) error

	// SaveSource stores the raw source text submitted for a book
	SaveSource(ctx context.Context, bookID string, text string) error

	// GetSource retrieves the raw source text submitted for a book
	GetSource(ctx context.Context, bookID string) (string, error)

	// SaveChapterText stores a chapter's source text
	SaveChapterText(ctx context.Context, bookID, chapterID string, text string) error

	// GetChapterText retrieves a chapter's source text
	GetChapterText(ctx context.Context, bookID, chapterID string) (string, error)

	// SaveAlignment stores a chapter's ordered segment list
	SaveAlignment(ctx context.Context, bookID, chapterID string, segments []types.Segment) error

	// GetAlignment retrieves a chapter's ordered segment list
	GetAlignment(ctx context.Context, bookID, chapterID string) ([]types.Segment, error)

	// SaveChapterAudio stores a chapter's merged audio asset
	SaveChapterAudio(ctx context.Context, bookID, chapterID, format string, audio io.Reader) error

	// GetChapterAudio retrieves a chapter's merged audio asset
	GetChapterAudio(ctx context.Context, bookID, chapterID string) ([]byte, string, error)

	// SaveProgress stores a user's reading progress for a book
	SaveProgress(ctx context.Context, progress *types.ReadingProgress) error

	// GetProgress retrieves a user's reading progress for a book
	GetProgress(ctx context.Context, bookID, userID string) (*types.ReadingProgress, error)
}

// audioFormats lists container extensions tried when locating chapter audio
var audioFormats = []string{"mp3", "wav", "ogg", "flac"}

// userIDPattern restricts user IDs to names that cannot alter the storage
// path they are joined into.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidUserID rejects user IDs that are empty or contain path separators,
// dots, or any other character unsafe in a storage key.
func ValidUserID(userID string) error {
	if !userIDPattern.MatchString(userID) {
		return fmt.Errorf("invalid user ID: %q", userID)
	}
	return nil
}

// StorageRepository implements Repository using a storage adapter
type StorageRepository struct {
	storage storage.Adapter
}

// NewRepository creates a new book repository
func NewRepository(storageAdapter storage.Adapter) Repository {
	return &StorageRepository{
		storage: storageAdapter,
	}
}

// SaveBook stores book metadata
func (r *StorageRepository) SaveBook(ctx context.Context, book *types.Book) error {
	data, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("failed to marshal book: %w", err)
	}

	return r.storage.Put(ctx, util.MetadataPath(book.ID), bytes.NewReader(data))
}

// GetBook retrieves book metadata by ID
func (r *StorageRepository) GetBook(ctx context.Context, bookID string) (*types.Book, error) {
	reader, err := r.storage.Get(ctx, util.MetadataPath(bookID))
	if err != nil {
		return nil, fmt.Errorf("failed to get book metadata: %w", err)
	}
	defer reader.Close()

	var book types.Book
	if err := json.NewDecoder(reader).Decode(&book); err != nil {
		return nil, fmt.Errorf("failed to decode book metadata: %w", err)
	}

	return &book, nil
}

// UpdateBook updates book metadata
func (r *StorageRepository) UpdateBook(ctx context.Context, book *types.Book) error {
	book.UpdatedAt = time.Now().UTC()
	return r.SaveBook(ctx, book)
}

// ListBooks returns all books
func (r *StorageRepository) ListBooks(ctx context.Context) ([]*types.Book, error) {
	paths, err := r.storage.List(ctx, "books/")
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}

	books := make([]*types.Book, 0)
	for _, p := range paths {
		if path.Base(p) != "metadata.json" {
			continue
		}

		reader, err := r.storage.Get(ctx, p)
		if err != nil {
			continue // Skip books that can't be read
		}

		var book types.Book
		if err := json.NewDecoder(reader).Decode(&book); err != nil {
			reader.Close()
			continue
		}
		reader.Close()

		books = append(books, &book)
	}

	return books, nil
}

// DeleteBook removes a book's metadata and every asset under its prefix
func (r *StorageRepository) DeleteBook(ctx context.Context, bookID string) error {
	if err := r.storage.DeletePrefix(ctx, util.BookPath(bookID)); err != nil {
		return fmt.Errorf("failed to delete book assets: %w", err)
	}
	return nil
}

// SaveSource stores the raw source text submitted for a book
func (r *StorageRepository) SaveSource(ctx context.Context, bookID string, text string) error {
	return r.storage.Put(ctx, util.SourcePath(bookID), bytes.NewReader([]byte(text)))
}

// GetSource retrieves the raw source text submitted for a book
func (r *StorageRepository) GetSource(ctx context.Context, bookID string) (string, error) {
	reader, err := r.storage.Get(ctx, util.SourcePath(bookID))
	if err != nil {
		return "", fmt.Errorf("failed to get book source: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read book source: %w", err)
	}
	return string(data), nil
}

// SaveChapterText stores a chapter's source text
func (r *StorageRepository) SaveChapterText(ctx context.Context, bookID, chapterID string, text string) error {
	return r.storage.Put(ctx, util.ChapterTextPath(bookID, chapterID), bytes.NewReader([]byte(text)))
}

// GetChapterText retrieves a chapter's source text
func (r *StorageRepository) GetChapterText(ctx context.Context, bookID, chapterID string) (string, error) {
	reader, err := r.storage.Get(ctx, util.ChapterTextPath(bookID, chapterID))
	if err != nil {
		return "", fmt.Errorf("failed to get chapter text: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read chapter text: %w", err)
	}
	return string(data), nil
}

// SaveAlignment stores a chapter's ordered segment list
func (r *StorageRepository) SaveAlignment(ctx context.Context, bookID, chapterID string, segments []types.Segment) error {
	data, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("failed to marshal alignment: %w", err)
	}
	return r.storage.Put(ctx, util.ChapterAlignPath(bookID, chapterID), bytes.NewReader(data))
}

// GetAlignment retrieves a chapter's ordered segment list
func (r *StorageRepository) GetAlignment(ctx context.Context, bookID, chapterID string) ([]types.Segment, error) {
	reader, err := r.storage.Get(ctx, util.ChapterAlignPath(bookID, chapterID))
	if err != nil {
		return nil, fmt.Errorf("failed to get alignment: %w", err)
	}
	defer reader.Close()

	var segments []types.Segment
	if err := json.NewDecoder(reader).Decode(&segments); err != nil {
		return nil, fmt.Errorf("failed to decode alignment: %w", err)
	}
	return segments, nil
}

// SaveChapterAudio stores a chapter's merged audio asset
func (r *StorageRepository) SaveChapterAudio(ctx context.Context, bookID, chapterID, format string, audio io.Reader) error {
	return r.storage.Put(ctx, util.ChapterAudioPath(bookID, chapterID, format), audio)
}

// GetChapterAudio retrieves a chapter's merged audio, trying known formats
func (r *StorageRepository) GetChapterAudio(ctx context.Context, bookID, chapterID string) ([]byte, string, error) {
	for _, format := range audioFormats {
		reader, err := r.storage.Get(ctx, util.ChapterAudioPath(bookID, chapterID, format))
		if err != nil {
			continue
		}
		data, err := io.ReadAll(reader)
		reader.Close()
		if err != nil {
			return nil, "", fmt.Errorf("failed to read chapter audio: %w", err)
		}
		return data, format, nil
	}
	return nil, "", fmt.Errorf("chapter audio not found: %s/%s", bookID, chapterID)
}

// SaveProgress stores a user's reading progress for a book
func (r *StorageRepository) SaveProgress(ctx context.Context, progress *types.ReadingProgress) error {
	if err := ValidUserID(progress.UserID); err != nil {
		return err
	}
	progress.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	return r.storage.Put(ctx, util.ProgressPath(progress.BookID, progress.UserID), bytes.NewReader(data))
}

// GetProgress retrieves a user's reading progress for a book
func (r *StorageRepository) GetProgress(ctx context.Context, bookID, userID string) (*types.ReadingProgress, error) {
	if err := ValidUserID(userID); err != nil {
		return nil, err
	}
	reader, err := r.storage.Get(ctx, util.ProgressPath(bookID, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	defer reader.Close()

	var progress types.ReadingProgress
	if err := json.NewDecoder(reader).Decode(&progress); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	return &progress, nil
}
