package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/semaphore"

	"github.com/ent0n29/healthrelay/internal/protocol"
	"github.com/ent0n29/healthrelay/internal/reliability"
)

type options struct {
	baseURL        string
	userID         string
	requests       int
	concurrency    int
	requestTimeout time.Duration
	retries        int
	retryBase      time.Duration
	texts          []string
	verbose        bool
}

type relayRequest struct {
	Message string `json:"message"`
	User    string `json:"user,omitempty"`
}

// sample is the timing of one relay request, measured from the POST.
type sample struct {
	Session    time.Duration
	FirstChunk time.Duration
	Total      time.Duration
	Chunks     int
	Terminal   protocol.EventName
	ErrMessage string
	Attempts   int
}

// statusError is a non-200 answer from the relay endpoint.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

var defaultUtterances = []string{
	"Reply in three words: how did I sleep?",
	"Reply in three words: steps today?",
	"Reply in three words: resting heart rate?",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfrelay: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfrelay: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var textsRaw string
	var timeoutMS int

	fs := flag.NewFlagSet("perfrelay", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "healthrelay base URL")
	fs.StringVar(&cfg.userID, "user-id", "perf-replay", "user sent with each relay request")
	fs.IntVar(&cfg.requests, "requests", 10, "number of relay requests to send")
	fs.IntVar(&cfg.concurrency, "concurrency", 2, "requests in flight at once")
	fs.IntVar(&timeoutMS, "request-timeout-ms", 30000, "timeout per relay request in milliseconds")
	fs.IntVar(&cfg.retries, "retries", 2, "retries per request on retryable HTTP status")
	fs.StringVar(&textsRaw, "texts", "", "messages separated by '|' (optional)")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print per-request progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.requests <= 0 {
		return options{}, fmt.Errorf("requests must be > 0")
	}
	if cfg.concurrency <= 0 {
		return options{}, fmt.Errorf("concurrency must be > 0")
	}
	if cfg.retries < 0 {
		return options{}, fmt.Errorf("retries must be >= 0")
	}
	cfg.retryBase = 250 * time.Millisecond
	if timeoutMS < 1000 {
		timeoutMS = 1000
	}
	cfg.requestTimeout = time.Duration(timeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty messages")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	client := &http.Client{}
	slots := semaphore.NewWeighted(int64(cfg.concurrency))
	samples := make([]sample, cfg.requests)
	errs := make([]error, cfg.requests)

	var wg sync.WaitGroup
	for i := 0; i < cfg.requests; i++ {
		if err := slots.Acquire(ctx, 1); err != nil {
			return err
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer slots.Release(1)
			reqCtx, reqCancel := context.WithTimeout(ctx, cfg.requestTimeout)
			defer reqCancel()
			text := cfg.texts[i%len(cfg.texts)]
			samples[i], errs[i] = relayWithRetry(reqCtx, client, cfg, relayRequest{Message: text, User: cfg.userID})
			if cfg.verbose {
				fmt.Printf("perfrelay: request %d/%d attempts=%d terminal=%s first_chunk=%s total=%s err=%v\n",
					i+1, cfg.requests, samples[i].Attempts, samples[i].Terminal, samples[i].FirstChunk, samples[i].Total, errs[i])
			}
		}(i)
	}
	wg.Wait()

	var ok []sample
	failed := 0
	for i, s := range samples {
		if errs[i] != nil || s.Terminal != protocol.EventDone {
			failed++
			continue
		}
		ok = append(ok, s)
	}
	fmt.Print(summarize(ok, failed))
	if len(ok) == 0 {
		return fmt.Errorf("no relay request completed")
	}
	return nil
}

// relayWithRetry repeats a request the server rejected with a retryable
// status, backing off between attempts. Stream failures are not retried.
func relayWithRetry(ctx context.Context, client *http.Client, cfg options, body relayRequest) (sample, error) {
	for attempt := 0; ; attempt++ {
		s, err := relayOnce(ctx, client, cfg.baseURL, body)
		s.Attempts = attempt + 1
		var status *statusError
		if !errors.As(err, &status) || !reliability.IsRetryableHTTPStatus(status.Status) || attempt >= cfg.retries {
			return s, err
		}
		wait := reliability.ExponentialBackoff(attempt, cfg.retryBase, 5*time.Second)
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func relayOnce(ctx context.Context, client *http.Client, baseURL string, body relayRequest) (sample, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return sample{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/health-agent", bytes.NewReader(payload))
	if err != nil {
		return sample{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	res, err := client.Do(req)
	if err != nil {
		return sample{}, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		return sample{}, &statusError{Status: res.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	s, err := readEvents(res.Body, start)
	s.Total = time.Since(start)
	return s, err
}

// readEvents consumes an event stream until it ends, timing each milestone
// relative to start.
func readEvents(r io.Reader, start time.Time) (sample, error) {
	var s sample
	var event string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch protocol.EventName(event) {
			case protocol.EventSession:
				s.Session = time.Since(start)
			case protocol.EventChunk:
				if s.Chunks == 0 {
					s.FirstChunk = time.Since(start)
				}
				s.Chunks++
			case protocol.EventError:
				s.Terminal = protocol.EventError
				s.ErrMessage = gjson.Get(data, "message").String()
			case protocol.EventDone:
				s.Terminal = protocol.EventDone
			}
		}
	}
	if err := sc.Err(); err != nil {
		return s, fmt.Errorf("read event stream: %w", err)
	}
	if s.Terminal == protocol.EventError {
		return s, fmt.Errorf("relay error: %s", s.ErrMessage)
	}
	return s, nil
}

func summarize(samples []sample, failed int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "perfrelay: completed=%d failed=%d\n", len(samples), failed)
	if len(samples) == 0 {
		return b.String()
	}
	stages := []struct {
		name string
		get  func(sample) time.Duration
	}{
		{"session", func(s sample) time.Duration { return s.Session }},
		{"first_chunk", func(s sample) time.Duration { return s.FirstChunk }},
		{"total", func(s sample) time.Duration { return s.Total }},
	}
	for _, st := range stages {
		values := make([]time.Duration, 0, len(samples))
		for _, s := range samples {
			values = append(values, st.get(s))
		}
		sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
		fmt.Fprintf(&b, "perfrelay: %-11s p50=%s p95=%s max=%s\n", st.name,
			percentile(values, 0.50), percentile(values, 0.95), values[len(values)-1])
	}
	return b.String()
}

// percentile uses nearest rank over sorted values.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q*float64(len(sorted)) + 0.5)
	if idx < 1 {
		idx = 1
	}
	if idx > len(sorted) {
		idx = len(sorted)
	}
	return sorted[idx-1]
}
