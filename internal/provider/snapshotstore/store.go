// Package snapshotstore persists a snapshot's metadata blob (image digest,
// size, creation time) to object storage, keyed by the same
// snapshotImageId the Provider port's TakeSnapshot returns (SPEC_FULL §4.10).
// Only a pointer into this store is kept in the relational store.
package snapshotstore

import "io"

// Store abstracts snapshot metadata blob storage.
type Store interface {
	// Save writes a snapshot metadata blob from the reader and returns the
	// storage path.
	Save(snapshotImageID string, r io.Reader) (storagePath string, err error)

	// Get returns a ReadCloser for the blob at the given storage path.
	Get(storagePath string) (io.ReadCloser, error)

	// Delete removes the blob at the given storage path.
	Delete(storagePath string) error
}
