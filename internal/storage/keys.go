// Package storage holds object storage for document content and the
// helpers that name and fingerprint stored objects.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// Digest algorithms.
const (
	SHA256 = "sha256"
	BLAKE3 = "blake3"
)

// Digest returns "<algorithm>:<hex>" for data.
func Digest(algorithm string, data []byte) (string, error) {
	switch algorithm {
	case SHA256, "":
		sum := sha256.Sum256(data)
		return SHA256 + ":" + hex.EncodeToString(sum[:]), nil
	case BLAKE3:
		sum := blake3.Sum256(data)
		return BLAKE3 + ":" + hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("unknown digest algorithm %q", algorithm)
	}
}

// ObjectKey names a new content object:
// rfps/<rfp>/documents/<document>/<unix-millis>-<uuid><ext>.
func ObjectKey(rfpID, documentID, filename string, at time.Time) string {
	ext := strings.ToLower(path.Ext(filename))
	return "rfps/" + rfpID + "/documents/" + documentID + "/" +
		strconv.FormatInt(at.UnixMilli(), 10) + "-" + uuid.NewString() + ext
}

// ContentDisposition builds an attachment header value for filename.
func ContentDisposition(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}
