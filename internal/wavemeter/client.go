// Package wavemeter defines the narrow read-only client interface the
// lock engine consumes for optional absolute-frequency telemetry. The wire
// protocol to a real wavemeter instrument is out of scope; only the
// interface and a no-op stub are provided here.
package wavemeter

import "context"

// Client has the same method set as engine.WavemeterClient; it is
// repeated here so this package has no dependency on internal/engine.
// Query returns the most recent frequency reading in THz for each
// configured laser key (the WAVEMETER section's `Laser1`/`Laser2` keys).
type Client interface {
	Query(ctx context.Context) (map[string]float64, error)
}

// Stub is a no-op Client returning an empty reading, used when no
// wavemeter is configured.
type Stub struct{}

// Query always succeeds with an empty map.
func (Stub) Query(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{}, nil
}
