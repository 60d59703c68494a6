package document

import (
	"fmt"
	"regexp"
	"time"
)

var (
	idRegex      = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	docTypeRegex = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

// DefaultType is used when an upload carries no document type.
const DefaultType = "general"

// MaxFilenameLength bounds the stored original filename.
const MaxFilenameLength = 255

// Document is the identity of a file under an RFP. Its content lives in
// its versions; the document tracks the head version and deletion.
type Document struct {
	id        string
	rfpID     string
	filename  string
	docType   string
	createdBy string
	createdAt time.Time
	head      int
	deletedAt time.Time
	deletedBy string
}

// New validates and creates a Document with no versions yet.
func New(id, rfpID, filename, docType, createdBy string, createdAt time.Time) (Document, error) {
	if err := ValidateID(id); err != nil {
		return Document{}, err
	}
	if err := ValidateID(rfpID); err != nil {
		return Document{}, fmt.Errorf("rfp: %w", err)
	}
	if filename == "" {
		return Document{}, fmt.Errorf("filename is required")
	}
	if len(filename) > MaxFilenameLength {
		return Document{}, fmt.Errorf("filename too long (max %d)", MaxFilenameLength)
	}
	if docType == "" {
		docType = DefaultType
	}
	if len(docType) > 64 || !docTypeRegex.MatchString(docType) {
		return Document{}, fmt.Errorf("document type must be lowercase alphanumeric with underscores and hyphens")
	}
	if createdBy == "" {
		return Document{}, fmt.Errorf("creator is required")
	}
	return Document{
		id: id, rfpID: rfpID, filename: filename, docType: docType,
		createdBy: createdBy, createdAt: createdAt,
	}, nil
}

// ValidateID checks an identifier: ^[a-zA-Z0-9_-]+$, 1-128 chars.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if len(id) > 128 {
		return fmt.Errorf("id too long (max 128)")
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("id must be alphanumeric with underscores and hyphens")
	}
	return nil
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(
	id, rfpID, filename, docType, createdBy string, createdAt time.Time,
	head int, deletedAt time.Time, deletedBy string,
) Document {
	return Document{
		id: id, rfpID: rfpID, filename: filename, docType: docType,
		createdBy: createdBy, createdAt: createdAt, head: head,
		deletedAt: deletedAt, deletedBy: deletedBy,
	}
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// RFPID returns the owning RFP.
func (d *Document) RFPID() string { return d.rfpID }

// Filename returns the original filename of the first upload.
func (d *Document) Filename() string { return d.filename }

// Type returns the document type (general, proposal, ...).
func (d *Document) Type() string { return d.docType }

// CreatedBy returns the creating principal.
func (d *Document) CreatedBy() string { return d.createdBy }

// CreatedAt returns the creation time.
func (d *Document) CreatedAt() time.Time { return d.createdAt }

// Head returns the highest allocated version number, 0 before the first version.
func (d *Document) Head() int { return d.head }

// Deleted reports whether the document has been tombstoned.
func (d *Document) Deleted() bool { return !d.deletedAt.IsZero() }

// DeletedAt returns the tombstone time.
func (d *Document) DeletedAt() time.Time { return d.deletedAt }

// DeletedBy returns the principal that tombstoned the document.
func (d *Document) DeletedBy() string { return d.deletedBy }

// Advance returns a copy whose head points at v. Tombstone versions also
// mark the document deleted.
func (d *Document) Advance(v *Version) Document {
	next := *d
	next.head = v.Number()
	if v.Tombstone() {
		next.deletedAt = v.CreatedAt()
		next.deletedBy = v.UploadedBy()
	}
	return next
}
