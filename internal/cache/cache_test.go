package cache_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-proxy/internal/cache"
	"github.com/angeloszaimis/edge-proxy/pkg/logger"
)

func meta() cache.Meta {
	return cache.Meta{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/plain"}},
	}
}

// store populates key with body in one go.
func store(c *cache.Cache, key string, body []byte) error {
	w, err := c.BeginPopulate(key, int64(len(body)), meta())
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return w.Commit()
}

// stream populates key in chunks without a declared length.
func stream(c *cache.Cache, key string, body []byte, chunk int) error {
	w, err := c.BeginPopulate(key, -1, meta())
	if err != nil {
		return err
	}
	for off := 0; off < len(body); off += chunk {
		end := min(off+chunk, len(body))
		if _, err := w.Write(body[off:end]); err != nil {
			return err
		}
	}
	return w.Commit()
}

var _ = Describe("Cache", func() {
	var c *cache.Cache

	BeforeEach(func() {
		c = cache.New(cache.RuntimeConfiguration{}, logger.Discard())
	})

	Describe("Lookup", func() {
		It("should miss on an empty cache", func() {
			_, ok := c.Lookup("GET a/")
			Expect(ok).To(BeFalse())
			Expect(c.Stats().Misses).To(Equal(int64(1)))
		})

		It("should return a committed entry", func() {
			Expect(store(c, "k", []byte("hello"))).To(Succeed())

			e, ok := c.Lookup("k")
			Expect(ok).To(BeTrue())
			Expect(e.Key()).To(Equal("k"))
			Expect(e.Size()).To(Equal(int64(5)))
			Expect(e.StatusCode()).To(Equal(http.StatusOK))
			Expect(e.Header().Get("Content-Type")).To(Equal("text/plain"))
			body, _ := io.ReadAll(e.Reader())
			Expect(string(body)).To(Equal("hello"))
			Expect(c.Size()).To(Equal(int64(1)))
			Expect(c.Bytes()).To(Equal(int64(5)))
		})

		It("should not expose an entry before Commit", func() {
			w, err := c.BeginPopulate("k", -1, meta())
			Expect(err).NotTo(HaveOccurred())
			_, _ = w.Write([]byte("partial"))

			_, ok := c.Lookup("k")
			Expect(ok).To(BeFalse())

			Expect(w.Commit()).To(Succeed())
			_, ok = c.Lookup("k")
			Expect(ok).To(BeTrue())
		})

		It("should not expose an aborted entry", func() {
			w, err := c.BeginPopulate("k", -1, meta())
			Expect(err).NotTo(HaveOccurred())
			_, _ = w.Write([]byte("partial"))
			w.Abort()

			_, ok := c.Lookup("k")
			Expect(ok).To(BeFalse())
			Expect(w.Err()).To(MatchError(cache.ErrAborted))
			Expect(w.Commit()).To(MatchError(cache.ErrAborted))
			Expect(c.InFlight("k")).To(BeFalse())
		})

		It("should drop entries once expired", func() {
			now := time.Now()
			var clock atomic.Int64
			clock.Store(now.UnixNano())
			c = cache.New(cache.RuntimeConfiguration{}, logger.Discard(),
				cache.WithClock(func() time.Time { return time.Unix(0, clock.Load()) }))

			m := meta()
			m.Expires = now.Add(time.Minute)
			w, err := c.BeginPopulate("k", 1, m)
			Expect(err).NotTo(HaveOccurred())
			_, _ = w.Write([]byte("x"))
			Expect(w.Commit()).To(Succeed())

			_, ok := c.Lookup("k")
			Expect(ok).To(BeTrue())

			clock.Store(now.Add(2 * time.Minute).UnixNano())
			_, ok = c.Lookup("k")
			Expect(ok).To(BeFalse())
			Expect(c.Size()).To(BeZero())
		})

		It("should count expired entries removed by Sweep as evictions", func() {
			now := time.Now()
			var clock atomic.Int64
			clock.Store(now.UnixNano())
			c = cache.New(cache.RuntimeConfiguration{}, logger.Discard(),
				cache.WithClock(func() time.Time { return time.Unix(0, clock.Load()) }))

			m := meta()
			m.Expires = now.Add(time.Minute)
			for _, key := range []string{"a", "b"} {
				w, err := c.BeginPopulate(key, 1, m)
				Expect(err).NotTo(HaveOccurred())
				_, _ = w.Write([]byte("x"))
				Expect(w.Commit()).To(Succeed())
			}
			Expect(store(c, "fresh", []byte("y"))).To(Succeed())

			clock.Store(now.Add(2 * time.Minute).UnixNano())
			Expect(c.Sweep()).To(Equal(2))
			Expect(c.Size()).To(Equal(int64(1)))
			Expect(c.Stats().Evictions).To(Equal(int64(2)))
		})
	})

	Describe("admission by maximum file size", func() {
		const length = 1024
		body := bytes.Repeat([]byte("a"), length)

		DescribeTable("declared and streamed bodies behave the same",
			func(maxFileSize int64, cached bool) {
				for _, populate := range []func(*cache.Cache, string, []byte) error{
					store,
					func(c *cache.Cache, k string, b []byte) error { return stream(c, k, b, 100) },
				} {
					c = cache.New(cache.RuntimeConfiguration{MaxFileSize: maxFileSize}, logger.Discard())
					err := populate(c, "k", body)

					_, ok := c.Lookup("k")
					Expect(ok).To(Equal(cached))
					if cached {
						Expect(err).NotTo(HaveOccurred())
						Expect(c.Size()).To(Equal(int64(1)))
					} else {
						Expect(err).To(MatchError(cache.ErrTooLarge))
						Expect(c.Size()).To(BeZero())
						Expect(c.Bytes()).To(BeZero())
						Expect(c.InFlight("k")).To(BeFalse())
					}
				}
			},
			Entry("unbounded", int64(0), true),
			Entry("limit equal to length", int64(length), true),
			Entry("limit one byte below length", int64(length-1), false),
			Entry("limit far below length", int64(10), false),
		)

		It("should reject a declared length before buffering", func() {
			c = cache.New(cache.RuntimeConfiguration{MaxFileSize: 10}, logger.Discard())
			w, err := c.BeginPopulate("k", 11, meta())
			Expect(err).To(MatchError(cache.ErrTooLarge))
			Expect(w).To(BeNil())
			Expect(c.Stats().Rejections).To(Equal(int64(1)))
		})

		It("should abort a stream as soon as it exceeds the limit", func() {
			c = cache.New(cache.RuntimeConfiguration{MaxFileSize: 10}, logger.Discard())
			w, err := c.BeginPopulate("k", -1, meta())
			Expect(err).NotTo(HaveOccurred())

			_, err = w.Write([]byte("12345"))
			Expect(err).NotTo(HaveOccurred())
			_, err = w.Write([]byte("123456"))
			Expect(err).To(MatchError(cache.ErrTooLarge))
			Eventually(w.Done()).Should(BeClosed())

			_, err = w.Write([]byte("1"))
			Expect(err).To(MatchError(cache.ErrTooLarge))
			Expect(c.InFlight("k")).To(BeFalse())
		})

		It("should discard a body shorter than declared", func() {
			w, err := c.BeginPopulate("k", 10, meta())
			Expect(err).NotTo(HaveOccurred())
			_, _ = w.Write([]byte("12345"))
			Expect(w.Commit()).To(MatchError(cache.ErrAborted))

			_, ok := c.Lookup("k")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("admission by maximum cache size", func() {
		BeforeEach(func() {
			c = cache.New(cache.RuntimeConfiguration{MaxSize: 100}, logger.Discard())
		})

		It("should reject an entry larger than the whole cache", func() {
			_, err := c.BeginPopulate("k", 101, meta())
			Expect(err).To(MatchError(cache.ErrCacheFull))
			Expect(stream(c, "k", make([]byte, 101), 50)).To(MatchError(cache.ErrCacheFull))
			Expect(c.Size()).To(BeZero())
		})

		It("should evict the least recently used entries", func() {
			Expect(store(c, "a", make([]byte, 40))).To(Succeed())
			Expect(store(c, "b", make([]byte, 40))).To(Succeed())
			_, ok := c.Lookup("a")
			Expect(ok).To(BeTrue())

			Expect(store(c, "c", make([]byte, 40))).To(Succeed())

			_, ok = c.Lookup("b")
			Expect(ok).To(BeFalse())
			_, ok = c.Lookup("a")
			Expect(ok).To(BeTrue())
			_, ok = c.Lookup("c")
			Expect(ok).To(BeTrue())
			Expect(c.Bytes()).To(Equal(int64(80)))
			Expect(c.Stats().Evictions).To(Equal(int64(1)))
		})

		It("should evict in recency order across many entries", func() {
			c = cache.New(cache.RuntimeConfiguration{MaxSize: 1000}, logger.Discard())
			for i := 0; i < 100; i++ {
				Expect(store(c, fmt.Sprintf("k%d", i), make([]byte, 10))).To(Succeed())
			}
			for i := 0; i < 100; i += 2 {
				_, ok := c.Lookup(fmt.Sprintf("k%d", i))
				Expect(ok).To(BeTrue())
			}

			for i := 0; i < 50; i++ {
				Expect(store(c, fmt.Sprintf("n%d", i), make([]byte, 10))).To(Succeed())
			}

			for i := 0; i < 100; i++ {
				_, ok := c.Lookup(fmt.Sprintf("k%d", i))
				Expect(ok).To(Equal(i%2 == 0), "k%d", i)
			}
			Expect(c.Stats().Evictions).To(Equal(int64(50)))
		})

		It("should keep inserting quickly once the cache is full", func() {
			const entries = 20000
			c = cache.New(cache.RuntimeConfiguration{MaxSize: entries * 10}, logger.Discard())
			body := make([]byte, 10)
			for i := 0; i < entries; i++ {
				Expect(store(c, fmt.Sprintf("k%d", i), body)).To(Succeed())
			}

			start := time.Now()
			for i := 0; i < entries; i++ {
				Expect(store(c, fmt.Sprintf("n%d", i), body)).To(Succeed())
			}
			Expect(time.Since(start)).To(BeNumerically("<", 5*time.Second))
			Expect(c.Size()).To(Equal(int64(entries)))
			Expect(c.Stats().Evictions).To(Equal(int64(entries)))
		})

		It("should replace an existing entry for the same key", func() {
			Expect(store(c, "a", make([]byte, 60))).To(Succeed())
			Expect(store(c, "a", make([]byte, 70))).To(Succeed())
			Expect(c.Size()).To(Equal(int64(1)))
			Expect(c.Bytes()).To(Equal(int64(70)))
		})

		It("should never exceed the maximum size under concurrent insertion", func() {
			var wg sync.WaitGroup
			var over atomic.Bool
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					_ = stream(c, fmt.Sprintf("k%d", i), make([]byte, 10+i%30), 7)
					if c.Bytes() > 100 {
						over.Store(true)
					}
					c.Lookup(fmt.Sprintf("k%d", i/2))
				}(i)
			}
			wg.Wait()

			Expect(over.Load()).To(BeFalse())
			Expect(c.Bytes()).To(BeNumerically("<=", 100))

			var total int64
			for i := 0; i < 50; i++ {
				if e, ok := c.Lookup(fmt.Sprintf("k%d", i)); ok {
					total += e.Size()
				}
			}
			Expect(total).To(Equal(c.Bytes()))
		})
	})

	Describe("population in flight", func() {
		It("should allow one writer per key", func() {
			w, err := c.BeginPopulate("k", -1, meta())
			Expect(err).NotTo(HaveOccurred())
			Expect(c.InFlight("k")).To(BeTrue())

			_, err = c.BeginPopulate("k", -1, meta())
			Expect(err).To(MatchError(cache.ErrPopulationInFlight))

			_, err = c.BeginPopulate("other", -1, meta())
			Expect(err).NotTo(HaveOccurred())

			w.Abort()
			_, err = c.BeginPopulate("k", -1, meta())
			Expect(err).NotTo(HaveOccurred())
		})

		It("should grant exactly one writer under contention", func() {
			var wg sync.WaitGroup
			var granted atomic.Int64
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := c.BeginPopulate("k", -1, meta()); err == nil {
						granted.Add(1)
					}
				}()
			}
			wg.Wait()
			Expect(granted.Load()).To(Equal(int64(1)))
		})
	})

	Describe("Wait", func() {
		It("should return the entry once the population commits", func() {
			w, err := c.BeginPopulate("k", 2, meta())
			Expect(err).NotTo(HaveOccurred())

			result := make(chan bool, 1)
			go func() {
				_, ok := c.Wait(context.Background(), "k")
				result <- ok
			}()

			Consistently(result, 50*time.Millisecond).ShouldNot(Receive())
			_, _ = w.Write([]byte("ok"))
			Expect(w.Commit()).To(Succeed())
			Eventually(result).Should(Receive(BeTrue()))
		})

		It("should report a miss when the population aborts", func() {
			w, err := c.BeginPopulate("k", -1, meta())
			Expect(err).NotTo(HaveOccurred())
			go w.Abort()

			_, ok := c.Wait(context.Background(), "k")
			Expect(ok).To(BeFalse())
		})

		It("should give up when the context ends", func() {
			_, err := c.BeginPopulate("k", -1, meta())
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, ok := c.Wait(ctx, "k")
			Expect(ok).To(BeFalse())
		})

		It("should behave as Lookup without a population", func() {
			Expect(store(c, "k", []byte("x"))).To(Succeed())
			_, ok := c.Wait(context.Background(), "k")
			Expect(ok).To(BeTrue())
		})
	})

	Describe("Reload", func() {
		It("should be a no-op for an equal configuration", func() {
			Expect(c.Reload(cache.RuntimeConfiguration{})).To(BeFalse())
			Expect(c.Reload(cache.RuntimeConfiguration{MaxSize: 10})).To(BeTrue())
			Expect(c.Reload(cache.RuntimeConfiguration{MaxSize: 10})).To(BeFalse())
			Expect(c.Configuration()).To(Equal(cache.RuntimeConfiguration{MaxSize: 10}))
		})

		It("should keep entries that satisfy the new limits", func() {
			Expect(store(c, "small", make([]byte, 5))).To(Succeed())
			Expect(store(c, "large", make([]byte, 50))).To(Succeed())

			Expect(c.Reload(cache.RuntimeConfiguration{MaxFileSize: 10})).To(BeTrue())

			_, ok := c.Lookup("small")
			Expect(ok).To(BeTrue())
			_, ok = c.Lookup("large")
			Expect(ok).To(BeFalse())
			Expect(c.Bytes()).To(Equal(int64(5)))
		})

		It("should shrink to the new maximum size", func() {
			for i := 0; i < 10; i++ {
				Expect(store(c, fmt.Sprintf("k%d", i), make([]byte, 10))).To(Succeed())
			}

			c.Reload(cache.RuntimeConfiguration{MaxSize: 35})
			Expect(c.Bytes()).To(Equal(int64(30)))
			Expect(c.Size()).To(Equal(int64(3)))

			_, ok := c.Lookup("k9")
			Expect(ok).To(BeTrue())
			_, ok = c.Lookup("k0")
			Expect(ok).To(BeFalse())
		})

		It("should apply to writers already in flight", func() {
			w, err := c.BeginPopulate("k", -1, meta())
			Expect(err).NotTo(HaveOccurred())
			_, _ = w.Write(make([]byte, 20))

			c.Reload(cache.RuntimeConfiguration{MaxFileSize: 10})
			Expect(w.Commit()).To(MatchError(cache.ErrTooLarge))
		})

		It("should never expose a torn configuration", func() {
			a := cache.RuntimeConfiguration{MaxSize: 1000, MaxFileSize: 100}
			b := cache.RuntimeConfiguration{MaxSize: 2000, MaxFileSize: 200}
			c.Reload(a)

			stop := make(chan struct{})
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; ; i++ {
					select {
					case <-stop:
						return
					default:
					}
					if i%2 == 0 {
						c.Reload(b)
					} else {
						c.Reload(a)
					}
				}
			}()

			for i := 0; i < 2000; i++ {
				cfg := c.Configuration()
				Expect(cfg == a || cfg == b).To(BeTrue(), fmt.Sprintf("%+v", cfg))
				Expect(c.Bytes()).To(BeNumerically("<=", cfg.MaxSize))
			}
			close(stop)
			wg.Wait()
		})
	})

	Describe("Sweep", func() {
		It("should remove expired entries only", func() {
			m := meta()
			m.Expires = time.Now().Add(-time.Second)
			w, err := c.BeginPopulate("old", 1, m)
			Expect(err).NotTo(HaveOccurred())
			_, _ = w.Write([]byte("x"))
			Expect(w.Commit()).To(Succeed())
			Expect(store(c, "fresh", []byte("y"))).To(Succeed())

			Expect(c.Sweep()).To(Equal(1))
			Expect(c.Size()).To(Equal(int64(1)))
		})
	})

	Describe("Purge", func() {
		It("should empty the cache", func() {
			Expect(store(c, "a", []byte("x"))).To(Succeed())
			Expect(store(c, "b", []byte("y"))).To(Succeed())
			c.Purge()
			Expect(c.Size()).To(BeZero())
			Expect(c.Bytes()).To(BeZero())
		})
	})

	Describe("Stats", func() {
		It("should count activity", func() {
			Expect(store(c, "a", []byte("xyz"))).To(Succeed())
			c.Lookup("a")
			c.Lookup("b")
			_, _ = c.BeginPopulate("c", -1, meta())

			s := c.Stats()
			Expect(s.Entries).To(Equal(int64(1)))
			Expect(s.Bytes).To(Equal(int64(3)))
			Expect(s.Hits).To(Equal(int64(1)))
			Expect(s.Misses).To(Equal(int64(1)))
			Expect(s.Stores).To(Equal(int64(1)))
			Expect(s.InFlight).To(Equal(1))
		})
	})
})
