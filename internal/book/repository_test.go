package book

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/inkvoice/inkvoice/internal/storage"
	"github.com/inkvoice/inkvoice/pkg/types"
)

func newTestRepo(t *testing.T) Repository {
	t.Helper()
	adapter, err := storage.NewLocalAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create storage adapter: %v", err)
	}
	t.Cleanup(func() { adapter.Close() })
	return NewRepository(adapter)
}

func TestBookRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("SaveAndGetBook", func(t *testing.T) {
		bk := &types.Book{
			ID:               "book_123",
			Title:            "Test Book",
			Author:           "Test Author",
			Voice:            "alloy",
			ProcessingStatus: types.StatusPending,
			CreatedAt:        time.Now().UTC(),
		}

		if err := repo.SaveBook(ctx, bk); err != nil {
			t.Fatalf("Failed to save book: %v", err)
		}

		retrieved, err := repo.GetBook(ctx, "book_123")
		if err != nil {
			t.Fatalf("Failed to get book: %v", err)
		}
		if retrieved.ID != bk.ID {
			t.Errorf("Book ID mismatch: got %s, want %s", retrieved.ID, bk.ID)
		}
		if retrieved.Title != bk.Title {
			t.Errorf("Book title mismatch: got %s, want %s", retrieved.Title, bk.Title)
		}
		if retrieved.ProcessingStatus != types.StatusPending {
			t.Errorf("Expected pending status, got %s", retrieved.ProcessingStatus)
		}
	})

	t.Run("UpdateBook", func(t *testing.T) {
		bk := &types.Book{
			ID:               "book_456",
			Title:            "Original Title",
			ProcessingStatus: types.StatusPending,
			CreatedAt:        time.Now().UTC(),
		}
		if err := repo.SaveBook(ctx, bk); err != nil {
			t.Fatalf("Failed to save book: %v", err)
		}

		bk.ProcessingStatus = types.StatusReady
		bk.TotalDuration = 120.5
		if err := repo.UpdateBook(ctx, bk); err != nil {
			t.Fatalf("Failed to update book: %v", err)
		}

		retrieved, err := repo.GetBook(ctx, "book_456")
		if err != nil {
			t.Fatalf("Failed to get book: %v", err)
		}
		if retrieved.ProcessingStatus != types.StatusReady {
			t.Errorf("Book status not updated: got %s", retrieved.ProcessingStatus)
		}
		if retrieved.TotalDuration != 120.5 {
			t.Errorf("Book duration not updated: got %f", retrieved.TotalDuration)
		}
		if retrieved.UpdatedAt.IsZero() {
			t.Error("UpdateBook should stamp updated_at")
		}
	})

	t.Run("ListBooks", func(t *testing.T) {
		books, err := repo.ListBooks(ctx)
		if err != nil {
			t.Fatalf("Failed to list books: %v", err)
		}
		if len(books) != 2 {
			t.Errorf("Expected 2 books, got %d", len(books))
		}
	})

	t.Run("SourceRoundTrip", func(t *testing.T) {
		source := "Raw markdown text.\n\n# With a heading."
		if err := repo.SaveSource(ctx, "book_123", source); err != nil {
			t.Fatalf("Failed to save source: %v", err)
		}
		got, err := repo.GetSource(ctx, "book_123")
		if err != nil {
			t.Fatalf("Failed to get source: %v", err)
		}
		if got != source {
			t.Errorf("Source mismatch: got %q", got)
		}
	})

	t.Run("ChapterTextRoundTrip", func(t *testing.T) {
		text := "The chapter text as fed to the synthesizer."
		if err := repo.SaveChapterText(ctx, "book_123", "ch001", text); err != nil {
			t.Fatalf("Failed to save chapter text: %v", err)
		}
		got, err := repo.GetChapterText(ctx, "book_123", "ch001")
		if err != nil {
			t.Fatalf("Failed to get chapter text: %v", err)
		}
		if got != text {
			t.Errorf("Chapter text mismatch: got %q", got)
		}
	})

	t.Run("AlignmentRoundTrip", func(t *testing.T) {
		segments := []types.Segment{
			{ID: 0, Start: 0, End: 1.5, Text: "First sentence."},
			{ID: 1, Start: 1.5, End: 3.25, Text: "Second sentence."},
		}
		if err := repo.SaveAlignment(ctx, "book_123", "ch001", segments); err != nil {
			t.Fatalf("Failed to save alignment: %v", err)
		}
		got, err := repo.GetAlignment(ctx, "book_123", "ch001")
		if err != nil {
			t.Fatalf("Failed to get alignment: %v", err)
		}
		if len(got) != 2 || got[1].End != 3.25 || got[1].Text != "Second sentence." {
			t.Errorf("Alignment mismatch: got %+v", got)
		}
	})

	t.Run("ChapterAudioRoundTrip", func(t *testing.T) {
		audio := []byte("RIFF....WAVE")
		if err := repo.SaveChapterAudio(ctx, "book_123", "ch001", "wav", bytes.NewReader(audio)); err != nil {
			t.Fatalf("Failed to save chapter audio: %v", err)
		}
		got, format, err := repo.GetChapterAudio(ctx, "book_123", "ch001")
		if err != nil {
			t.Fatalf("Failed to get chapter audio: %v", err)
		}
		if format != "wav" {
			t.Errorf("Expected wav format, got %s", format)
		}
		if !bytes.Equal(got, audio) {
			t.Error("Audio bytes mismatch")
		}
	})

	t.Run("ProgressRoundTrip", func(t *testing.T) {
		progress := &types.ReadingProgress{
			BookID:          "book_123",
			UserID:          "alice",
			CurrentPosition: 42.5,
			CurrentSegment:  7,
			PlaybackSpeed:   1.5,
		}
		if err := repo.SaveProgress(ctx, progress); err != nil {
			t.Fatalf("Failed to save progress: %v", err)
		}
		got, err := repo.GetProgress(ctx, "book_123", "alice")
		if err != nil {
			t.Fatalf("Failed to get progress: %v", err)
		}
		if got.CurrentPosition != 42.5 || got.CurrentSegment != 7 {
			t.Errorf("Progress mismatch: got %+v", got)
		}
		if got.UpdatedAt.IsZero() {
			t.Error("SaveProgress should stamp updated_at")
		}
	})

	t.Run("ProgressRejectsUnsafeUserID", func(t *testing.T) {
		for _, userID := range []string{"", "..", "../../../../escaped", "a/b", "a\\b", "with space", "dot.dot"} {
			progress := &types.ReadingProgress{BookID: "book_123", UserID: userID}
			if err := repo.SaveProgress(ctx, progress); err == nil {
				t.Errorf("SaveProgress accepted unsafe user ID %q", userID)
			}
			if _, err := repo.GetProgress(ctx, "book_123", userID); err == nil {
				t.Errorf("GetProgress accepted unsafe user ID %q", userID)
			}
		}
	})

	t.Run("DeleteBook", func(t *testing.T) {
		if err := repo.DeleteBook(ctx, "book_123"); err != nil {
			t.Fatalf("Failed to delete book: %v", err)
		}
		if _, err := repo.GetBook(ctx, "book_123"); err == nil {
			t.Error("Expected error getting deleted book")
		}
		if _, _, err := repo.GetChapterAudio(ctx, "book_123", "ch001"); err == nil {
			t.Error("Expected chapter assets to be gone after delete")
		}
	})

	t.Run("GetNonExistentBook", func(t *testing.T) {
		if _, err := repo.GetBook(ctx, "no-such-book"); err == nil {
			t.Error("Expected error for non-existent book")
		}
	})
}

func TestProgressWriteStaysInsideStorageRoot(t *testing.T) {
	root := t.TempDir()
	adapter, err := storage.NewLocalAdapter(filepath.Join(root, "storage"))
	if err != nil {
		t.Fatalf("Failed to create storage adapter: %v", err)
	}
	defer adapter.Close()
	repo := NewRepository(adapter)

	progress := &types.ReadingProgress{BookID: "book_123", UserID: "../../../../escaped"}
	if err := repo.SaveProgress(context.Background(), progress); err == nil {
		t.Fatal("Expected SaveProgress to reject a traversal user ID")
	}

	if _, err := os.Stat(filepath.Join(root, "escaped.json")); !os.IsNotExist(err) {
		t.Errorf("Progress write escaped the storage root: %v", err)
	}
}
