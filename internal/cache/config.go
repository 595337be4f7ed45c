package cache

import "errors"

var (
	// ErrTooLarge means the entry exceeds MaxFileSize.
	ErrTooLarge = errors.New("cache: entry exceeds maximum file size")
	// ErrCacheFull means the entry alone exceeds MaxSize.
	ErrCacheFull = errors.New("cache: entry exceeds maximum cache size")
	// ErrPopulationInFlight means another Writer holds the key.
	ErrPopulationInFlight = errors.New("cache: population already in flight")
	// ErrAborted means the population was abandoned before Commit.
	ErrAborted = errors.New("cache: population aborted")
)

// RuntimeConfiguration holds the live cache limits in bytes. Values compare
// with ==.
type RuntimeConfiguration struct {
	MaxSize     int64 `json:"max_size"`
	MaxFileSize int64 `json:"max_file_size"`
}

// check reports why an entry of size bytes cannot be stored, or nil.
func (c RuntimeConfiguration) check(size int64) error {
	if c.MaxFileSize > 0 && size > c.MaxFileSize {
		return ErrTooLarge
	}
	if c.MaxSize > 0 && size > c.MaxSize {
		return ErrCacheFull
	}
	return nil
}
