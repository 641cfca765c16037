// Package storage provides the durable slot store backing the offline
// cache and the request queue. A slot is an independent string-keyed blob
// that is read once at startup and rewritten on every relevant mutation,
// so the backlog of pending work and the cached data survive a process
// restart.
package storage

import "errors"

// ErrSlotNotFound is returned by Read when no blob has been written to the
// requested slot.
var ErrSlotNotFound = errors.New("storage slot not found")

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -o ../mocks/store.go . Store

// Store persists named blobs across process restarts.
// Implementations must tolerate concurrent calls.
type Store interface {
	// Read returns the blob last written to the slot.
	// Returns ErrSlotNotFound if the slot has never been written or was deleted.
	Read(slot string) ([]byte, error)

	// Write replaces the slot's blob.
	Write(slot string, data []byte) error

	// Delete removes the slot. Deleting an absent slot is not an error.
	Delete(slot string) error
}
