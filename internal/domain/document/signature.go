package document

import "time"

// Signature records that a principal signed one content version. A signer
// signs a version at most once and the record never changes afterwards.
type Signature struct {
	DocumentID    string
	Version       int
	SignerID      string
	Data          []byte
	ContentDigest string
	// Hash covers every other field, so a stored record can be checked
	// against the version it claims to sign.
	Hash     string
	SignedAt time.Time
}
