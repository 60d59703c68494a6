package document

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"

	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
)

// Shared zstd coders; both are safe for concurrent EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("zstd encoder: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("zstd decoder: %v", err))
	}
}

// Document hash field names.
const (
	fieldID        = "id"
	fieldRFP       = "rfp_id"
	fieldFilename  = "filename"
	fieldType      = "document_type"
	fieldCreatedBy = "created_by"
	fieldCreatedAt = "created_at"
	fieldHead      = "head"
	fieldDeletedAt = "deleted_at"
	fieldDeletedBy = "deleted_by"
)

// buildHashFields converts a domain Document into a flat map for HSET.
func buildHashFields(d *domdoc.Document) map[string]string {
	m := map[string]string{
		fieldID:        d.ID(),
		fieldRFP:       d.RFPID(),
		fieldFilename:  d.Filename(),
		fieldType:      d.Type(),
		fieldCreatedBy: d.CreatedBy(),
		fieldCreatedAt: formatTime(d.CreatedAt()),
		fieldHead:      strconv.Itoa(d.Head()),
	}
	if d.Deleted() {
		m[fieldDeletedAt] = formatTime(d.DeletedAt())
		m[fieldDeletedBy] = d.DeletedBy()
	}
	return m
}

// headFields holds only the fields a new version changes.
func headFields(d *domdoc.Document) map[string]string {
	m := map[string]string{fieldHead: strconv.Itoa(d.Head())}
	if d.Deleted() {
		m[fieldDeletedAt] = formatTime(d.DeletedAt())
		m[fieldDeletedBy] = d.DeletedBy()
	}
	return m
}

// parseHashFields converts a hash back into a domain Document.
func parseHashFields(m map[string]string) (domdoc.Document, error) {
	head, err := strconv.Atoi(m[fieldHead])
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("parse head %q: %w", m[fieldHead], err)
	}
	createdAt, err := parseTime(m[fieldCreatedAt])
	if err != nil {
		return domdoc.Document{}, err
	}
	deletedAt, err := parseTime(m[fieldDeletedAt])
	if err != nil {
		return domdoc.Document{}, err
	}
	return domdoc.Reconstruct(
		m[fieldID], m[fieldRFP], m[fieldFilename], m[fieldType], m[fieldCreatedBy], createdAt,
		head, deletedAt, m[fieldDeletedBy],
	), nil
}

// versionJSON is the stored form of a Version.
type versionJSON struct {
	DocumentID string    `json:"document_id"`
	Number     int       `json:"number"`
	Key        string    `json:"key,omitempty"`
	Digest     string    `json:"digest,omitempty"`
	Size       int64     `json:"size,omitempty"`
	MimeType   string    `json:"mime_type,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	TextZstd   []byte    `json:"text_zst,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	UploadedBy string    `json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
	Tombstone  bool      `json:"tombstone,omitempty"`
}

func encodeVersion(v *domdoc.Version) ([]byte, error) {
	c := v.Content()
	dto := versionJSON{
		DocumentID: v.DocumentID(),
		Number:     v.Number(),
		Key:        c.Key,
		Digest:     c.Digest,
		Size:       c.Size,
		MimeType:   c.MimeType,
		Filename:   c.Filename,
		Notes:      v.Notes(),
		UploadedBy: v.UploadedBy(),
		CreatedAt:  v.CreatedAt().UTC(),
		Tombstone:  v.Tombstone(),
	}
	if t := v.Text(); t != "" {
		dto.TextZstd = zstdEncoder.EncodeAll([]byte(t), nil)
	}
	data, err := json.Marshal(dto)
	if err != nil {
		return nil, fmt.Errorf("marshal version: %w", err)
	}
	return data, nil
}

func decodeVersion(data []byte) (domdoc.Version, error) {
	var dto versionJSON
	if err := json.Unmarshal(data, &dto); err != nil {
		return domdoc.Version{}, fmt.Errorf("unmarshal version: %w", err)
	}
	var text string
	if len(dto.TextZstd) > 0 {
		raw, err := zstdDecoder.DecodeAll(dto.TextZstd, nil)
		if err != nil {
			return domdoc.Version{}, fmt.Errorf("decompress text of %s/%d: %w", dto.DocumentID, dto.Number, err)
		}
		text = string(raw)
	}
	return domdoc.ReconstructVersion(
		dto.DocumentID, dto.Number,
		domdoc.Content{Key: dto.Key, Digest: dto.Digest, Size: dto.Size, MimeType: dto.MimeType, Filename: dto.Filename},
		text, dto.Notes, dto.UploadedBy, dto.CreatedAt, dto.Tombstone,
	), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
