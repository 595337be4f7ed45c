package cache

import (
	"bytes"
	"container/list"
	"net/http"
	"time"
)

// Meta is the response metadata stored with an entry.
type Meta struct {
	StatusCode int
	Header     http.Header
	Expires    time.Time
}

// Entry is one complete cached response. It is immutable once visible.
type Entry struct {
	key     string
	meta    Meta
	body    []byte
	created time.Time

	// element is guarded by the owning Cache's LRU mutex.
	element *list.Element
}

func (e *Entry) Key() string {
	return e.key
}

// Size returns the stored body length in bytes.
func (e *Entry) Size() int64 {
	return int64(len(e.body))
}

func (e *Entry) StatusCode() int {
	return e.meta.StatusCode
}

// Header returns a copy of the stored response header.
func (e *Entry) Header() http.Header {
	return e.meta.Header.Clone()
}

func (e *Entry) Created() time.Time {
	return e.created
}

func (e *Entry) Expires() time.Time {
	return e.meta.Expires
}

// Fresh reports whether the entry may still be served at now.
func (e *Entry) Fresh(now time.Time) bool {
	return e.meta.Expires.IsZero() || now.Before(e.meta.Expires)
}

// Reader returns a reader over the body.
func (e *Entry) Reader() *bytes.Reader {
	return bytes.NewReader(e.body)
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.created)
}
