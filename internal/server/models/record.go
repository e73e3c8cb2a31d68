// Package models defines server-side data models persisted in the database.
package models

import "time"

// VaultRecord is the metadata kept for every encrypted (or simulated) file.
type VaultRecord struct {
	ID           string
	OwnerID      string
	OwnerName    string
	FileName     string
	FileSize     string
	Algorithm    string
	KeyType      string
	CreatedAt    time.Time
	Fingerprint  string
	DecryptCount int64

	// Storage is nil for simulated records.
	Storage *StoredArtifact
}

// StoredArtifact locates the ciphertext of a real record and carries what is
// needed to open it.
type StoredArtifact struct {
	// Path is the blob-store key of the ciphertext.
	Path string
	// NonceHex is the AES-GCM nonce used for the file.
	NonceHex string
	// EncryptedKey is the data key as produced by the key codec.
	EncryptedKey string
}

// Simulated reports whether the record has no backing ciphertext.
func (r *VaultRecord) Simulated() bool {
	return r.Storage == nil
}
