package review

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexOutOfRange is wrapped by IndexError
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrUnknownField is returned for an editable field name outside dosage, quantity and instructions
	ErrUnknownField = errors.New("unknown field")
	// ErrStaleResponse is wrapped by StaleResponseError
	ErrStaleResponse = errors.New("stale response")
	// ErrSessionNotFound is returned for unknown or evicted sessions
	ErrSessionNotFound = errors.New("session not found")
	// ErrCorruptedHistory is returned when replayed events do not apply
	ErrCorruptedHistory = errors.New("corrupted event history")
)

// IndexError is returned by Remove for a position outside the item list
type IndexError struct {
	Index int
	Count int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %d out of range [0,%d)", e.Index, e.Count)
}

func (e *IndexError) Unwrap() error { return ErrIndexOutOfRange }

// StaleResponseError reports a response that arrived after a newer request began
type StaleResponseError struct {
	RequestSeq uint64
	LatestSeq  uint64
}

func (e *StaleResponseError) Error() string {
	return fmt.Sprintf("response for request %d discarded, latest is %d", e.RequestSeq, e.LatestSeq)
}

func (e *StaleResponseError) Unwrap() error { return ErrStaleResponse }
