package cache

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
)

// Writer buffers one response body for the cache. It is safe for use by one
// producer plus any number of goroutines calling Done.
type Writer struct {
	cache    *Cache
	key      string
	declared int64
	meta     Meta

	mutex    sync.Mutex
	buf      bytes.Buffer
	finished bool
	err      error
	done     chan struct{}
}

func newWriter(c *Cache, key string, declared int64, meta Meta) *Writer {
	return &Writer{
		cache:    c,
		key:      key,
		declared: declared,
		meta:     meta,
		done:     make(chan struct{}),
	}
}

// Write appends p to the buffered body. Once the body grows past the current
// MaxFileSize the population is aborted and every further call fails.
func (w *Writer) Write(p []byte) (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.finished {
		return 0, w.err
	}

	if err := w.cache.config.Load().check(int64(w.buf.Len() + len(p))); err != nil {
		w.finishLocked(err)
		w.cache.rejections.Add(1)
		return 0, err
	}

	return w.buf.Write(p)
}

// Commit stores the buffered body as the entry for the key.
func (w *Writer) Commit() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.finished {
		if w.err == nil {
			return errors.New("cache: writer already committed")
		}
		return w.err
	}

	if w.declared >= 0 && int64(w.buf.Len()) != w.declared {
		err := fmt.Errorf("%w: body has %d of %d declared bytes", ErrAborted, w.buf.Len(), w.declared)
		w.finishLocked(err)
		return err
	}

	meta := w.meta
	meta.Header = meta.Header.Clone()
	e := &Entry{
		key:     w.key,
		meta:    meta,
		body:    w.buf.Bytes(),
		created: w.cache.now(),
	}

	if err := w.cache.insert(e); err != nil {
		w.cache.rejections.Add(1)
		w.finishLocked(err)
		return err
	}

	w.finishLocked(nil)
	return nil
}

// Abort discards the buffered body. It is a no-op after Commit.
func (w *Writer) Abort() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.finished {
		w.finishLocked(ErrAborted)
	}
}

// Done is closed once the writer is committed or aborted.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

// Err returns why the population failed, nil while in progress or after a
// successful Commit.
func (w *Writer) Err() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.err
}

// finishLocked releases the key. The mutex must be held.
func (w *Writer) finishLocked(err error) {
	w.finished = true
	w.err = err
	if err != nil {
		w.buf = bytes.Buffer{}
	}

	sh := w.cache.shard(w.key)
	sh.mutex.Lock()
	if sh.inflight[w.key] == w {
		delete(sh.inflight, w.key)
	}
	sh.mutex.Unlock()

	close(w.done)
}
