// Loadtest is a concurrent HTTP load testing tool that measures throughput,
// latency percentiles, cache hit ratio and backend distribution of the proxy.
//
// Usage:
//
//	go run ./scripts/loadtest -url http://localhost:8080/static/4096 -concurrency 10 -requests 1000
//	go run ./scripts/loadtest -url http://localhost:8080/dynamic -concurrency 50 -requests 5000 -csv results.csv -out summary.json
//
// Responses are attributed by the X-Backend header the proxy sets; cache
// hits carry X-Cached and are counted under "(cache)".
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

const cacheSource = "(cache)"

type sample struct {
	idx      int
	source   string
	status   int
	duration time.Duration
	err      error
}

type sourceStats struct {
	Total     int             `json:"total"`
	Success   int             `json:"success"`
	Failure   int             `json:"failure"`
	latencies []time.Duration
}

type summary struct {
	Target        string                  `json:"target"`
	Requests      int                     `json:"requests"`
	Concurrency   int                     `json:"concurrency"`
	Success       int                     `json:"success"`
	Failure       int                     `json:"failure"`
	CacheHits     int                     `json:"cache_hits"`
	DurationMS    int64                   `json:"duration_ms"`
	ThroughputRPS float64                 `json:"throughput_rps"`
	StatusCodes   map[int]int             `json:"status_codes"`
	Sources       map[string]*sourceStats `json:"sources"`
	Percentiles   map[string]float64      `json:"percentiles_ms"`
}

func main() {
	var (
		target      = flag.String("url", "http://localhost:8080/static/1024", "Target URL")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
		requests    = flag.Int("requests", 100, "Total number of requests to send")
		method      = flag.String("method", http.MethodGet, "HTTP method")
		timeout     = flag.Duration("timeout", 10*time.Second, "Per-request timeout")
		outJSON     = flag.String("out", "", "Write JSON summary to this file (optional)")
		outCSV      = flag.String("csv", "", "Write per-request CSV to this file (optional)")
		verbose     = flag.Bool("v", false, "Verbose per-request logging to stdout")
	)
	flag.Parse()

	client := &http.Client{Timeout: *timeout}
	samples := make([]sample, *requests)

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(*concurrency)

	start := time.Now()
	for i := range *requests {
		g.Go(func() error {
			samples[i] = send(ctx, client, *method, *target, i)
			if *verbose {
				s := samples[i]
				fmt.Printf("idx=%d source=%s status=%d dur=%v err=%v\n", s.idx, s.source, s.status, s.duration, s.err)
			}
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	sum := summarize(samples, elapsed)
	sum.Target = *target
	sum.Concurrency = *concurrency
	report(sum)

	if *outCSV != "" {
		if err := writeCSV(*outCSV, samples); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write csv: %v\n", err)
			os.Exit(1)
		}
	}
	if *outJSON != "" {
		if err := writeJSON(*outJSON, sum); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write json: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if sum.Failure > 0 {
		os.Exit(2)
	}
}

func send(ctx context.Context, client *http.Client, method, target string, idx int) sample {
	s := sample{idx: idx}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		s.err = err
		s.duration = time.Since(start)
		return s
	}
	// Spread clients for hash-based strategies.
	req.Header.Set("X-Forwarded-For", fmt.Sprintf("192.168.1.%d", (idx%50)+1))

	resp, err := client.Do(req)
	if err != nil {
		s.err = err
		s.duration = time.Since(start)
		return s
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	s.status = resp.StatusCode
	s.source = resp.Header.Get("X-Backend")
	if resp.Header.Get("X-Cached") == "true" {
		s.source = cacheSource
	}
	if s.source == "" {
		s.source = "(unknown)"
	}
	s.duration = time.Since(start)
	return s
}

func summarize(samples []sample, elapsed time.Duration) *summary {
	sum := &summary{
		Requests:      len(samples),
		DurationMS:    elapsed.Milliseconds(),
		ThroughputRPS: float64(len(samples)) / elapsed.Seconds(),
		StatusCodes:   make(map[int]int),
		Sources:       make(map[string]*sourceStats),
	}

	all := make([]time.Duration, 0, len(samples))
	for _, s := range samples {
		all = append(all, s.duration)

		ok := s.err == nil && s.status >= 200 && s.status <= 299
		if ok {
			sum.Success++
		} else {
			sum.Failure++
		}
		if s.err != nil {
			continue
		}

		sum.StatusCodes[s.status]++
		if s.source == cacheSource {
			sum.CacheHits++
		}

		st, found := sum.Sources[s.source]
		if !found {
			st = &sourceStats{}
			sum.Sources[s.source] = st
		}
		st.Total++
		if ok {
			st.Success++
		} else {
			st.Failure++
		}
		st.latencies = append(st.latencies, s.duration)
	}

	sum.Percentiles = percentiles(all)
	return sum
}

func percentiles(latencies []time.Duration) map[string]float64 {
	if len(latencies) == 0 {
		return nil
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	pick := func(p float64) float64 {
		d := sorted[int(float64(len(sorted)-1)*p)]
		return float64(d.Microseconds()) / 1000
	}
	return map[string]float64{"p50": pick(0.50), "p90": pick(0.90), "p95": pick(0.95), "p99": pick(0.99)}
}

func report(sum *summary) {
	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", sum.Target)
	fmt.Printf("Requests: %d  Concurrency: %d\n", sum.Requests, sum.Concurrency)
	fmt.Printf("Success: %d  Failure: %d\n", sum.Success, sum.Failure)
	fmt.Printf("Duration: %dms  Throughput: %.2f req/s\n", sum.DurationMS, sum.ThroughputRPS)
	if sum.Requests > 0 {
		fmt.Printf("Cache hits: %d (%.1f%%)\n", sum.CacheHits, 100*float64(sum.CacheHits)/float64(sum.Requests))
	}

	fmt.Println("\nStatus codes:")
	codes := make([]int, 0, len(sum.StatusCodes))
	for code := range sum.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d -> %d\n", code, sum.StatusCodes[code])
	}

	fmt.Println("\nSource distribution:")
	names := make([]string, 0, len(sum.Sources))
	for name := range sum.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := sum.Sources[name]
		p := percentiles(st.latencies)
		fmt.Printf("  %s -> total=%d success=%d failure=%d p50=%.2fms p99=%.2fms\n",
			name, st.Total, st.Success, st.Failure, p["p50"], p["p99"])
	}

	if p := sum.Percentiles; p != nil {
		fmt.Printf("\nOverall latencies: p50=%.2fms p90=%.2fms p95=%.2fms p99=%.2fms\n",
			p["p50"], p["p90"], p["p95"], p["p99"])
	}
}

func writeCSV(path string, samples []sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"idx", "source", "status", "duration_ms", "error"})
	for _, s := range samples {
		errText := ""
		if s.err != nil {
			errText = s.err.Error()
		}
		_ = w.Write([]string{
			strconv.Itoa(s.idx),
			s.source,
			strconv.Itoa(s.status),
			strconv.FormatFloat(float64(s.duration.Microseconds())/1000, 'f', 3, 64),
			errText,
		})
	}
	w.Flush()
	return w.Error()
}

func writeJSON(path string, sum *summary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
