package util

import (
	"fmt"
	"path"
)

// BookPath returns the storage prefix for a book's assets
func BookPath(bookID string) string {
	return path.Join("books", bookID)
}

// MetadataPath returns the storage path for a book's metadata record
func MetadataPath(bookID string) string {
	return path.Join("books", bookID, "metadata.json")
}

// SourcePath returns the storage path for a book's raw source text
func SourcePath(bookID string) string {
	return path.Join("books", bookID, "source.txt")
}

// ManifestPath returns the storage path for a book's manifest
func ManifestPath(bookID string) string {
	return path.Join("books", bookID, "manifest.json")
}

// ChapterAudioPath returns the storage path for a chapter's merged audio
func ChapterAudioPath(bookID, chapterID, format string) string {
	return path.Join("books", bookID, fmt.Sprintf("%s_audio.%s", chapterID, format))
}

// ChapterTextPath returns the storage path for a chapter's source text
func ChapterTextPath(bookID, chapterID string) string {
	return path.Join("books", bookID, fmt.Sprintf("%s_text.txt", chapterID))
}

// ChapterAlignPath returns the storage path for a chapter's alignment data
func ChapterAlignPath(bookID, chapterID string) string {
	return path.Join("books", bookID, fmt.Sprintf("%s_align.json", chapterID))
}

// ProgressPath returns the storage path for a user's reading progress
func ProgressPath(bookID, userID string) string {
	return path.Join("books", bookID, "progress", fmt.Sprintf("%s.json", userID))
}

// ChapterID formats a 1-based chapter number as a stable identifier
func ChapterID(number int) string {
	return fmt.Sprintf("ch%03d", number)
}
