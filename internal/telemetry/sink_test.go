package telemetry

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ograsdijk/tclockd/internal/engine"
)

func Test_NewSink_creates_the_log_directory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "telemetry")
	s, err := NewSink(dir)
	require.NoError(t, err)
	defer s.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func Test_Sink_Publish_drops_oldest_when_over_capacity(t *testing.T) {
	s, err := NewSink(t.TempDir(), WithCapacity(3), WithDrainInterval(time.Hour))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		s.Publish(engine.TelemetryFrame{Iteration: int64(i)})
	}

	assert.Equal(t, int64(2), s.Dropped())
	require.Len(t, s.buf, 3)
	assert.Equal(t, int64(2), s.buf[0].iteration)
	assert.Equal(t, int64(4), s.buf[2].iteration)
}

func Test_Sink_Publish_copies_maps_defensively(t *testing.T) {
	s, err := NewSink(t.TempDir(), WithDrainInterval(time.Hour))
	require.NoError(t, err)
	defer s.Close()

	shared := map[int]float64{1: 10.0}
	s.Publish(engine.TelemetryFrame{Iteration: 1, RealFrequencyMHz: shared})
	shared[1] = 999.0

	require.Len(t, s.buf, 1)
	assert.Equal(t, 10.0, s.buf[0].realFreq[1])
}

func Test_Sink_Close_drains_remaining_buffer_and_writes_a_header_once(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(dir, WithDrainInterval(time.Hour))
	require.NoError(t, err)

	s.Publish(engine.TelemetryFrame{
		Iteration:        1,
		TimeMs:           12.5,
		MasterErrorMHz:   0.25,
		RealFrequencyMHz: map[int]float64{1: 100.0},
		LockFrequencyMHz: map[int]float64{1: 100.5},
		RealR:            map[int]float64{1: 0.5},
		LockR:            map[int]float64{1: 0.5},
		PowerVolts:       map[int]float64{1: 1.2},
		WavemeterFreqTHz: map[string]float64{"laser1": 282.456},
	})
	require.NoError(t, s.Close())

	name := time.Now().UTC().Format("2006-01-02") + ".csv"
	path := filepath.Join(dir, name)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Iteration", "TimeMs", "Errors", "RealFrequency", "LockFrequency", "RealR", "LockR", "Power", "WvmFrequency"}, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "1:100.0000", rows[1][3])
	assert.Equal(t, "laser1:282.456000", rows[1][8])
}

func Test_Sink_writeRecords_does_not_duplicate_the_header_across_calls(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(dir, WithDrainInterval(time.Hour))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.writeRecords([]record{{iteration: 1}}))
	require.NoError(t, s.writeRecords([]record{{iteration: 2}}))

	name := time.Now().UTC().Format("2006-01-02") + ".csv"
	f, err := os.Open(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "one header row plus two data rows, no repeated header")
	assert.Equal(t, "Iteration", rows[0][0])
}

func Test_Sink_updateBatchErrorStats_computes_mean_and_max_absolute_error(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(dir, WithDrainInterval(time.Hour))
	require.NoError(t, err)
	defer s.Close()

	s.updateBatchErrorStats([]record{
		{errorMHz: 1.0},
		{errorMHz: -3.0},
		{errorMHz: 2.0},
	})

	mean, max := s.BatchErrorStats()
	assert.InDelta(t, 2.0, mean, 1e-9)
	assert.InDelta(t, 3.0, max, 1e-9)
}

func Test_Sink_drain_is_a_noop_on_an_empty_buffer(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(dir, WithDrainInterval(time.Hour))
	require.NoError(t, err)
	defer s.Close()

	s.drain()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no file should be created when nothing was ever published")
}

func Test_copyFloatMap_and_copyStringMap_nil_passthrough(t *testing.T) {
	assert.Nil(t, copyFloatMap(nil))
	assert.Nil(t, copyStringMap(nil))
}

func Test_formatIndexedMap_sorts_by_key(t *testing.T) {
	assert.Equal(t, "1:1.0000|2:2.0000", formatIndexedMap(map[int]float64{2: 2.0, 1: 1.0}))
	assert.Equal(t, "", formatIndexedMap(nil))
}

func Test_formatNamedMap_sorts_by_key(t *testing.T) {
	assert.Equal(t, "a:1.000000|b:2.000000", formatNamedMap(map[string]float64{"b": 2.0, "a": 1.0}))
	assert.Equal(t, "", formatNamedMap(nil))
}
