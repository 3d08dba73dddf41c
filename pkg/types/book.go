package types

import "time"

// Processing status values for a book. A book is readable by clients only
// when its status is StatusReady and a complete manifest exists.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Book represents an audiobook and its processing state
type Book struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Author           string    `json:"author"`
	OwnerID          string    `json:"owner_id"` // Opaque; assigned by the auth layer
	Voice            string    `json:"voice"`
	StoragePath      string    `json:"storage_path"`      // Relative to the storage root, e.g. "books/<id>"
	ProcessingStatus string    `json:"processing_status"` // pending, processing, ready, failed
	ProcessingError  string    `json:"processing_error,omitempty"`
	TotalDuration    float64   `json:"total_duration"` // seconds
	TotalSegments    int       `json:"total_segments"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Terminal reports whether the book's pipeline run has ended.
func (b *Book) Terminal() bool {
	return b.ProcessingStatus == StatusReady || b.ProcessingStatus == StatusFailed
}

// Segment is a persisted, time-stamped unit of text used for playback
// highlighting. IDs increase monotonically across the whole book so clients
// can binary-search a flat, globally-timed array.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"` // seconds, chapter-relative
	End   float64 `json:"end"`   // seconds, chapter-relative
	Text  string  `json:"text"`
}

// Chapter describes one chapter's assets as recorded in the manifest
type Chapter struct {
	ID        string  `json:"id"` // zero-padded sequence, e.g. "ch001"
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"` // seconds, measured from the merged audio
	Words     int     `json:"words"`
	AudioFile string  `json:"audio_file"`
	AlignFile string  `json:"align_file"`
	TextFile  string  `json:"text_file"`
}

// Manifest is the book-level index of chapters, durations, and asset
// locations. Chapter order is playback order; TotalDuration is the exact sum
// of the listed chapter durations.
type Manifest struct {
	BookID        string    `json:"book_id"`
	BookTitle     string    `json:"book_title"`
	CreatedAt     time.Time `json:"created_at"`
	TotalChapters int       `json:"total_chapters"`
	TotalDuration float64   `json:"total_duration"`
	TotalWords    int       `json:"total_words"`
	Chapters      []Chapter `json:"chapters"`
}

// ProcessingStatusResponse is the status payload served while a book is
// processing (or after it failed)
type ProcessingStatusResponse struct {
	BookID    string    `json:"book_id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReadingProgress tracks a user's playback position within a book
type ReadingProgress struct {
	BookID          string    `json:"book_id"`
	UserID          string    `json:"user_id"`
	CurrentPosition float64   `json:"current_position"` // seconds
	CurrentSegment  int       `json:"current_segment"`
	PlaybackSpeed   float64   `json:"playback_speed"`
	UpdatedAt       time.Time `json:"updated_at"`
}
