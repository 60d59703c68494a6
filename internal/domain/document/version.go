package document

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Content describes stored bytes. The bytes themselves live in object
// storage under Key.
type Content struct {
	Key      string
	Digest   string
	Size     int64
	MimeType string
	Filename string
}

// Version is an immutable snapshot of a document. Numbers start at 1 and
// are contiguous per document.
type Version struct {
	documentID string
	number     int
	content    Content
	text       string
	notes      string
	uploadedBy string
	createdAt  time.Time
	tombstone  bool
}

// NewVersion validates and creates a content version.
func NewVersion(
	documentID string, number int, content Content, text, notes, uploadedBy string, createdAt time.Time,
) (Version, error) {
	if documentID == "" {
		return Version{}, fmt.Errorf("document id is required")
	}
	if number < 1 {
		return Version{}, fmt.Errorf("version number must be >= 1, got %d", number)
	}
	if content.Key == "" || content.Digest == "" {
		return Version{}, fmt.Errorf("content reference is required")
	}
	if content.Size < 0 {
		return Version{}, fmt.Errorf("content size must be >= 0")
	}
	if uploadedBy == "" {
		return Version{}, fmt.Errorf("uploader is required")
	}
	return Version{
		documentID: documentID, number: number, content: content, text: text,
		notes: notes, uploadedBy: uploadedBy, createdAt: createdAt,
	}, nil
}

// NewTombstone creates the deletion marker version.
func NewTombstone(documentID string, number int, deletedBy string, at time.Time) Version {
	return Version{documentID: documentID, number: number, uploadedBy: deletedBy, createdAt: at, tombstone: true}
}

// ReconstructVersion creates a Version without validation (storage hydration).
func ReconstructVersion(
	documentID string, number int, content Content, text, notes, uploadedBy string,
	createdAt time.Time, tombstone bool,
) Version {
	return Version{
		documentID: documentID, number: number, content: content, text: text,
		notes: notes, uploadedBy: uploadedBy, createdAt: createdAt, tombstone: tombstone,
	}
}

// DocumentID returns the owning document.
func (v *Version) DocumentID() string { return v.documentID }

// Number returns the version number.
func (v *Version) Number() int { return v.number }

// Content returns the content reference.
func (v *Version) Content() Content { return v.content }

// Text returns the text extracted from the content for indexing.
func (v *Version) Text() string { return v.text }

// Notes returns the uploader's version notes.
func (v *Version) Notes() string { return v.notes }

// UploadedBy returns the uploading (or deleting) principal.
func (v *Version) UploadedBy() string { return v.uploadedBy }

// CreatedAt returns the version timestamp.
func (v *Version) CreatedAt() time.Time { return v.createdAt }

// Tombstone reports whether this version marks deletion.
func (v *Version) Tombstone() bool { return v.tombstone }

// Selector picks a version: a concrete number or the latest one.
type Selector struct {
	number int
}

// Latest selects the head version.
func Latest() Selector { return Selector{} }

// Number selects a concrete version.
func Number(n int) Selector { return Selector{number: n} }

// ParseSelector accepts "latest" or a positive integer.
func ParseSelector(s string) (Selector, error) {
	if strings.EqualFold(s, "latest") || s == "" {
		return Latest(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return Selector{}, fmt.Errorf("version must be \"latest\" or a positive integer, got %q", s)
	}
	return Number(n), nil
}

// IsLatest reports whether the selector means the head version.
func (s Selector) IsLatest() bool { return s.number == 0 }

// Resolve returns the concrete number given the document head.
func (s Selector) Resolve(head int) int {
	if s.IsLatest() {
		return head
	}
	return s.number
}

func (s Selector) String() string {
	if s.IsLatest() {
		return "latest"
	}
	return strconv.Itoa(s.number)
}
