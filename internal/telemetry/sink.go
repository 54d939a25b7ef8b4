// Package telemetry buffers lock-loop telemetry frames in a fixed-capacity,
// drop-oldest queue and drains them periodically to a daily-rotated CSV
// file, so a slow or stalled disk never backs up the control loop.
package telemetry

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/ograsdijk/tclockd/internal/engine"
)

const defaultQueueCapacity = 4096

// record is the flattened, ready-to-serialize form of one TelemetryFrame.
// Per-slave maps are copied at Publish time and flattened into CSV
// columns by writeRecords.
type record struct {
	iteration int64
	timeMs    float64
	errorMHz  float64
	realFreq  map[int]float64
	lockFreq  map[int]float64
	realR     map[int]float64
	lockR     map[int]float64
	power     map[int]float64
	wvm       map[string]float64
}

// Sink is a bounded, drop-oldest telemetry buffer draining on its own
// goroutine to a daily-rotated CSV file. It implements engine.TelemetrySink.
// Publish never blocks: a full buffer silently drops the oldest record.
type Sink struct {
	mu       sync.Mutex
	buf      []record
	capacity int
	dropped  int64

	dir        string
	drainEvery time.Duration

	stop   chan struct{}
	done   chan struct{}
	onDrop func(dropped int64)

	fileMu   sync.Mutex
	fp       *os.File
	openName string

	batchMeanAbsErrorMHz float64
	batchMaxAbsErrorMHz  float64
}

// Option configures a Sink at construction.
type Option func(*Sink)

// WithCapacity overrides the default bounded queue size.
func WithCapacity(n int) Option {
	return func(s *Sink) { s.capacity = n }
}

// WithDrainInterval overrides the default batch-drain cadence. Intended
// for cadences of 10s or more so file writes stay infrequent relative to
// the scan rate; not re-validated here, callers pass sane values.
func WithDrainInterval(d time.Duration) Option {
	return func(s *Sink) { s.drainEvery = d }
}

// NewSink starts a drain goroutine writing daily-rotated CSV files under
// dir. Call Close to stop the drain and flush/close the open file.
func NewSink(dir string, opts ...Option) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("telemetry: create log dir %q: %w", dir, err)
	}

	s := &Sink{
		capacity:   defaultQueueCapacity,
		dir:        dir,
		drainEvery: 10 * time.Second,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.drainLoop()
	return s, nil
}

// Publish implements engine.TelemetrySink. It copies the frame's maps
// (so later changes to the caller's maps never reach a buffered record)
// and appends to the bounded buffer, dropping the oldest entry if full.
func (s *Sink) Publish(f engine.TelemetryFrame) {
	r := record{
		iteration: f.Iteration,
		timeMs:    f.TimeMs,
		errorMHz:  f.MasterErrorMHz,
		realFreq:  copyFloatMap(f.RealFrequencyMHz),
		lockFreq:  copyFloatMap(f.LockFrequencyMHz),
		realR:     copyFloatMap(f.RealR),
		lockR:     copyFloatMap(f.LockR),
		power:     copyFloatMap(f.PowerVolts),
		wvm:       copyStringMap(f.WavemeterFreqTHz),
	}

	s.mu.Lock()
	if len(s.buf) >= s.capacity {
		s.buf = s.buf[1:]
		s.dropped++
	}
	s.buf = append(s.buf, r)
	s.mu.Unlock()
}

// Dropped returns the count of telemetry frames discarded so far because
// the buffer was full at Publish time.
func (s *Sink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// BatchErrorStats returns the mean and max absolute master error, in MHz,
// over the most recently drained batch. Both are zero before the first
// drain.
func (s *Sink) BatchErrorStats() (meanAbs, maxAbs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchMeanAbsErrorMHz, s.batchMaxAbsErrorMHz
}

// Close stops the drain goroutine, performs one final drain, and closes
// the open file handle.
func (s *Sink) Close() error {
	close(s.stop)
	<-s.done
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if s.fp != nil {
		err := s.fp.Close()
		s.fp = nil
		return err
	}
	return nil
}

func (s *Sink) drainLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.drainEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.drain()
		case <-s.stop:
			s.drain()
			return
		}
	}
}

func (s *Sink) drain() {
	s.mu.Lock()
	pending := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	s.updateBatchErrorStats(pending)
	if err := s.writeRecords(pending); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: drain failed: %v\n", err)
	}
}

// updateBatchErrorStats summarizes the batch's master-error column so an
// operator console or log line can report loop health without reading
// the CSV back.
func (s *Sink) updateBatchErrorStats(pending []record) {
	abs := make([]float64, len(pending))
	for i, r := range pending {
		abs[i] = math.Abs(r.errorMHz)
	}
	mean := floats.Sum(abs) / float64(len(abs))
	max := floats.Max(abs)

	s.mu.Lock()
	s.batchMeanAbsErrorMHz = mean
	s.batchMaxAbsErrorMHz = max
	s.mu.Unlock()
}

// writeRecords appends pending to the day's CSV file, rotating to a new
// file when the UTC date has changed since the last write. UTC keeps file
// names stable regardless of the host's local timezone.
func (s *Sink) writeRecords(pending []record) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	name := time.Now().UTC().Format("2006-01-02") + ".csv"
	if s.fp != nil && name != s.openName {
		s.fp.Close()
		s.fp = nil
	}

	if s.fp == nil {
		full := filepath.Join(s.dir, name)
		_, statErr := os.Stat(full)
		alreadyThere := statErr == nil

		f, err := os.OpenFile(full, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
		if err != nil {
			return fmt.Errorf("telemetry: open %q: %w", full, err)
		}
		s.fp = f
		s.openName = name

		if !alreadyThere {
			w := csv.NewWriter(s.fp)
			_ = w.Write([]string{"Iteration", "TimeMs", "Errors", "RealFrequency", "LockFrequency", "RealR", "LockR", "Power", "WvmFrequency"})
			w.Flush()
		}
	}

	w := csv.NewWriter(s.fp)
	for _, r := range pending {
		if err := w.Write([]string{
			strconv.FormatInt(r.iteration, 10),
			strconv.FormatFloat(r.timeMs, 'f', 3, 64),
			strconv.FormatFloat(r.errorMHz, 'f', 4, 64),
			formatIndexedMap(r.realFreq),
			formatIndexedMap(r.lockFreq),
			formatIndexedMap(r.realR),
			formatIndexedMap(r.lockR),
			formatIndexedMap(r.power),
			formatNamedMap(r.wvm),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func copyFloatMap(m map[int]float64) map[int]float64 {
	if m == nil {
		return nil
	}
	out := make(map[int]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStringMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// formatIndexedMap renders a per-channel map as "idx:value|idx:value",
// sorted by index, so the column stays stable across runs with differing
// slave counts.
func formatIndexedMap(m map[int]float64) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	out := ""
	for i, k := range keys {
		if i > 0 {
			out += "|"
		}
		out += fmt.Sprintf("%d:%s", k, strconv.FormatFloat(m[k], 'f', 4, 64))
	}
	return out
}

func formatNamedMap(m map[string]float64) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for i, k := range keys {
		if i > 0 {
			out += "|"
		}
		out += fmt.Sprintf("%s:%s", k, strconv.FormatFloat(m[k], 'f', 6, 64))
	}
	return out
}
