package manifest

import (
	"context"
	"testing"
	"time"

	"github.com/inkvoice/inkvoice/internal/storage"
	"github.com/inkvoice/inkvoice/pkg/types"
)

func testManifest() *types.Manifest {
	return &types.Manifest{
		BookID:        "book-1",
		BookTitle:     "A Test Book",
		CreatedAt:     time.Now().UTC(),
		TotalChapters: 2,
		TotalDuration: 300.5,
		TotalWords:    950,
		Chapters: []types.Chapter{
			{ID: "ch001", Title: "Chapter 1", Duration: 180.25, Words: 600,
				AudioFile: "ch001_audio.wav", AlignFile: "ch001_align.json", TextFile: "ch001_text.txt"},
			{ID: "ch002", Title: "Chapter 2", Duration: 120.25, Words: 350,
				AudioFile: "ch002_audio.wav", AlignFile: "ch002_align.json", TextFile: "ch002_text.txt"},
		},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	adapter, err := storage.NewLocalAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}
	return NewStore(adapter)
}

func TestStoreWriteAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := testManifest()
	if err := store.Write(ctx, m); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := store.Get(ctx, "book-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.BookID != m.BookID || got.TotalChapters != 2 || len(got.Chapters) != 2 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Chapters[0].ID != "ch001" {
		t.Errorf("chapter order lost: %+v", got.Chapters)
	}

	exists, err := store.Exists(ctx, "book-1")
	if err != nil || !exists {
		t.Errorf("Exists = %v, %v; want true, nil", exists, err)
	}
	exists, err = store.Exists(ctx, "book-2")
	if err != nil || exists {
		t.Errorf("Exists for missing book = %v, %v; want false, nil", exists, err)
	}
}

func TestStoreWriteRejectsInconsistentTotals(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("chapter count mismatch", func(t *testing.T) {
		m := testManifest()
		m.TotalChapters = 5
		if err := store.Write(ctx, m); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("duration mismatch", func(t *testing.T) {
		m := testManifest()
		m.TotalDuration = 999
		if err := store.Write(ctx, m); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("word count mismatch", func(t *testing.T) {
		m := testManifest()
		m.TotalWords = 1
		if err := store.Write(ctx, m); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("no chapters", func(t *testing.T) {
		m := testManifest()
		m.Chapters = nil
		if err := store.Write(ctx, m); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("no book id", func(t *testing.T) {
		m := testManifest()
		m.BookID = ""
		if err := store.Write(ctx, m); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for missing manifest")
	}
}
