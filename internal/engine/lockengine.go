package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ograsdijk/tclockd/internal/ioport"
)

// Wrong-peak rejection and lock-quality constants, kept fixed rather than
// exposed as config but given names so a future change is a one-line diff.
const (
	wrongPeakFSRFraction = 0.4
	lockCountThreshold   = 50
	scanHzWindow         = 10
)

// MasterLockState is the master cavity lock's state machine.
type MasterLockState int

const (
	MasterDisengaged MasterLockState = iota
	MasterMissingPeaks
	MasterTracking
	MasterLocked
)

func (s MasterLockState) String() string {
	switch s {
	case MasterDisengaged:
		return "disengaged"
	case MasterMissingPeaks:
		return "missing-peaks"
	case MasterTracking:
		return "tracking"
	case MasterLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// SlaveLockState is one slave's lock state machine.
type SlaveLockState int

const (
	SlaveDisengaged SlaveLockState = iota
	SlaveNotLocked
	SlaveLocked
)

func (s SlaveLockState) String() string {
	switch s {
	case SlaveDisengaged:
		return "disengaged"
	case SlaveNotLocked:
		return "not-locked"
	case SlaveLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// TelemetryFrame is tapped after error calculation, once per iteration,
// and handed to a TelemetrySink. Field names mirror the telemetry log's
// CSV columns.
type TelemetryFrame struct {
	Iteration        int64
	TimeMs           float64
	MasterErrorMHz   float64
	RealFrequencyMHz map[int]float64
	LockFrequencyMHz map[int]float64
	RealR            map[int]float64
	LockR            map[int]float64
	PowerVolts       map[int]float64
	WavemeterFreqTHz map[string]float64
}

// TelemetrySink receives frames on the control-loop's own goroutine; it
// must never block, or it would stall acquisition.
type TelemetrySink interface {
	Publish(TelemetryFrame)
}

// WavemeterClient is the narrow read-only interface the engine consumes;
// its wire framing to a real instrument is out of scope here.
type WavemeterClient interface {
	Query(ctx context.Context) (map[string]float64, error)
}

// MasterConfig configures the master cavity lock.
type MasterConfig struct {
	InputChannel ioport.Channel
	Lock         LockConfig
}

// SlaveConfig configures one slave laser's lock.
type SlaveConfig struct {
	Index                            int
	InputChannel, OutputChannel      ioport.Channel
	PowerChannel                     ioport.Channel
	Lock                             LockConfig
	MinVolts, MaxVolts               physic.ElectricPotential
}

// EngineConfig bundles everything LockEngine needs to build its runtime
// state at construction.
type EngineConfig struct {
	Scan       ScanConfig
	Geometry   GeometryConstants
	Master     MasterConfig
	Slaves     []SlaveConfig
	LockPoints LockPoints
}

// lockBroadcast is a single-producer many-consumer signal: signal wakes
// every goroutine currently blocked in wait, then resets so the next wait
// blocks until the next signal.
type lockBroadcast struct {
	mu sync.Mutex
	ch chan struct{}
}

func newLockBroadcast() *lockBroadcast {
	return &lockBroadcast{ch: make(chan struct{})}
}

func (b *lockBroadcast) signal() {
	b.mu.Lock()
	close(b.ch)
	b.ch = make(chan struct{})
	b.mu.Unlock()
}

func (b *lockBroadcast) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

type slaveRuntime struct {
	cfg        SlaveConfig
	state      SlaveState
	ring       errorRing
	pi         *PIController
	lockState  SlaveLockState
	broadcast  *lockBroadcast
	ownedBySweep bool
}

// LockEngine orchestrates one scan iteration end to end: drive, acquire,
// detect, update errors, compute feedback, apply, publish. It is the only
// component that ever calls the blocking AnalogIO primitives.
type LockEngine struct {
	io       ioport.AnalogIO
	sink     TelemetrySink
	wavemeter WavemeterClient

	mu sync.Mutex // guards lockPoints, engagement flags, lock state machines, and the controllers/clock they drive

	clock    *ScanClock
	geometry GeometryConstants

	lockPoints LockPoints

	masterCfg       MasterConfig
	masterState     MasterState
	masterRing      errorRing
	masterPI        *PIController
	masterEngaged   bool
	masterLockState MasterLockState
	masterBroadcast *lockBroadcast

	slaves map[int]*slaveRuntime

	rampChannel ioport.Channel

	iteration   int64
	scanHz      []float64 // moving-average ring, up to scanHzWindow entries
	configured  bool
}

// NewLockEngine builds a LockEngine around the given AnalogIO port,
// telemetry sink, and optional wavemeter client (nil is fine; telemetry's
// wavemeter columns are simply left empty).
func NewLockEngine(io ioport.AnalogIO, sink TelemetrySink, wavemeter WavemeterClient, cfg EngineConfig, rampChannel ioport.Channel) (*LockEngine, error) {
	clock, err := NewScanClock(cfg.Scan)
	if err != nil {
		return nil, err
	}

	e := &LockEngine{
		io:              io,
		sink:            sink,
		wavemeter:       wavemeter,
		clock:           clock,
		geometry:        cfg.Geometry,
		lockPoints:      cfg.LockPoints,
		masterCfg:       cfg.Master,
		masterPI:        NewPIController(cfg.Master.Lock.Kp, cfg.Master.Lock.Ki),
		masterBroadcast: newLockBroadcast(),
		slaves:          make(map[int]*slaveRuntime, len(cfg.Slaves)),
		rampChannel:     rampChannel,
	}
	if e.lockPoints.SlaveRTarget == nil {
		e.lockPoints.SlaveRTarget = make(map[int]float64)
	}

	for _, sc := range cfg.Slaves {
		e.slaves[sc.Index] = &slaveRuntime{
			cfg:       sc,
			pi:        NewBoundedPIController(sc.Lock.Kp, sc.Lock.Ki, voltsF(sc.MinVolts), voltsF(sc.MaxVolts)),
			broadcast: newLockBroadcast(),
		}
		if _, ok := e.lockPoints.SlaveRTarget[sc.Index]; !ok {
			e.lockPoints.SlaveRTarget[sc.Index] = 0.5
		}
	}

	return e, nil
}

// Start configures the synchronized acquisition clocks for the current
// scan configuration. Failure here is a FatalTimingError: the caller
// must not proceed to RunIteration.
func (e *LockEngine) Start(ctx context.Context) error {
	cfg := e.clock.Config()
	if err := e.io.ConfigureTiming(ctx, cfg.Samples, cfg.Duration); err != nil {
		return &FatalTimingError{Err: err}
	}
	e.configured = true
	return nil
}

// Shutdown releases the AnalogIO capability. Call once, after the last
// iteration has returned.
func (e *LockEngine) Shutdown() error {
	return e.io.Close()
}

func volts(v float64) physic.ElectricPotential {
	return physic.ElectricPotential(v * float64(physic.Volt))
}

func voltsF(v physic.ElectricPotential) float64 {
	return float64(v) / float64(physic.Volt)
}

// inputChannels returns the ordered channel list for a synchronized read:
// channel 0 is always the master, followed by each configured slave's
// input channel in index order.
func (e *LockEngine) inputChannels() []ioport.Channel {
	channels := []ioport.Channel{e.masterCfg.InputChannel}
	for k := 1; k <= len(e.slaves); k++ {
		if s, ok := e.slaves[k]; ok {
			channels = append(channels, s.cfg.InputChannel)
		}
	}
	return channels
}

// RunIteration executes one full iteration of the control pipeline (drive,
// acquire, detect, update errors, compute feedback, apply, publish) and
// returns the resulting snapshot. Soft failures
// (DetectionAnomaly, AcquisitionError) are reported via the returned
// error for logging purposes but do not themselves stop the loop; the
// caller decides whether to continue. A FatalTimingError means the
// engine was never started correctly and must not be iterated.
func (e *LockEngine) RunIteration(ctx context.Context) (EngineSnapshot, error) {
	if !e.configured {
		return EngineSnapshot{}, &FatalTimingError{Err: fmt.Errorf("engine: RunIteration called before Start")}
	}

	e.mu.Lock()
	cfg := e.clock.Config()
	lockPoints := LockPoints{MasterMs: e.lockPoints.MasterMs, SlaveRTarget: make(map[int]float64, len(e.lockPoints.SlaveRTarget))}
	for k, v := range e.lockPoints.SlaveRTarget {
		lockPoints.SlaveRTarget[k] = v
	}
	e.mu.Unlock()

	started := time.Now()

	channels := e.inputChannels()
	if err := e.io.WriteRamp(ctx, e.rampChannel, e.clock.Volts()); err != nil {
		return EngineSnapshot{}, &AcquisitionError{Channel: e.rampChannel, Err: err}
	}
	traces, err := e.io.ReadSynchronized(ctx, channels, cfg.Samples)
	if err != nil {
		return EngineSnapshot{}, &AcquisitionError{Channel: channels[0], Err: err}
	}

	elapsed := time.Since(started)
	e.mu.Lock()
	e.pushScanHz(elapsed)
	e.mu.Unlock()

	timesMs := make([]float64, cfg.Samples)
	for i, t := range e.clock.Times() {
		timesMs[i] = float64(t) / float64(time.Millisecond)
	}

	masterTrace := toFloatTrace(traces[0])
	intervalMs := float64(cfg.Duration) / float64(time.Millisecond)

	var softErr error
	if detErr := e.runMasterPath(masterTrace, timesMs, lockPoints, intervalMs); detErr != nil {
		softErr = detErr
	}

	realR := map[int]float64{}
	lockR := map[int]float64{}
	realFreq := map[int]float64{}
	lockFreq := map[int]float64{}

	idx := 1
	for k := 1; k <= len(e.slaves); k++ {
		s, ok := e.slaves[k]
		if !ok {
			continue
		}
		trace := toFloatTrace(traces[idx])
		idx++
		if derr := e.runSlavePath(s, trace, timesMs, lockPoints, intervalMs); derr != nil && softErr == nil {
			softErr = derr
		}

		e.mu.Lock()
		r := s.state.R
		sector := s.state.Sector
		output := volts(s.pi.Output())
		e.mu.Unlock()

		fs := e.geometry.SlaveFSR(k)
		realR[k] = r
		lockR[k] = lockPoints.SlaveRTarget[k]
		realFreq[k] = AbsoluteFrequencyMHz(sector, e.geometry.CavityFSRGHz, DetuningMHz(r, fs))
		lockFreq[k] = AbsoluteFrequencyMHz(sector, e.geometry.CavityFSRGHz, DetuningMHz(lockPoints.SlaveRTarget[k], fs))

		if err := e.io.WriteDC(ctx, []ioport.Channel{s.cfg.OutputChannel}, []physic.ElectricPotential{output}); err != nil && softErr == nil {
			softErr = &AcquisitionError{Channel: s.cfg.OutputChannel, Err: err}
		}
	}

	powerChannels := make([]ioport.Channel, 0, len(e.slaves))
	powerIdx := make([]int, 0, len(e.slaves))
	for k, s := range e.slaves {
		powerChannels = append(powerChannels, s.cfg.PowerChannel)
		powerIdx = append(powerIdx, k)
	}
	power := map[int]float64{}
	if len(powerChannels) > 0 {
		if readings, err := e.io.ReadDC(ctx, powerChannels, 8); err == nil {
			for i, k := range powerIdx {
				power[k] = voltsF(readings[i])
			}
		}
	}

	var wvmFreq map[string]float64
	if e.wavemeter != nil {
		if wf, err := e.wavemeter.Query(ctx); err == nil {
			wvmFreq = wf
		}
	}

	e.mu.Lock()
	e.iteration++
	iteration := e.iteration
	masterErrorMHz := e.masterRing.lastPushed()
	snapshot := e.snapshot()
	e.mu.Unlock()

	if e.sink != nil {
		e.sink.Publish(TelemetryFrame{
			Iteration:        iteration,
			TimeMs:           float64(elapsed.Milliseconds()),
			MasterErrorMHz:   masterErrorMHz,
			RealFrequencyMHz: realFreq,
			LockFrequencyMHz: lockFreq,
			RealR:            realR,
			LockR:            lockR,
			PowerVolts:       power,
			WavemeterFreqTHz: wvmFreq,
		})
	}

	return snapshot, softErr
}

func (e *LockEngine) pushScanHz(d time.Duration) {
	hz := 0.0
	if d > 0 {
		hz = float64(time.Second) / float64(d)
	}
	e.scanHz = append(e.scanHz, hz)
	if len(e.scanHz) > scanHzWindow {
		e.scanHz = e.scanHz[len(e.scanHz)-scanHzWindow:]
	}
}

func (e *LockEngine) scanHzAverage() float64 {
	if len(e.scanHz) == 0 {
		return 0
	}
	var sum float64
	for _, v := range e.scanHz {
		sum += v
	}
	return sum / float64(len(e.scanHz))
}

func toFloatTrace(in []physic.ElectricPotential) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = voltsF(v)
	}
	return out
}

// runMasterPath runs PeakFinder on the master channel and updates
// MasterState, the error ring, the lock state machine, and the cavity
// offset PI.
func (e *LockEngine) runMasterPath(trace, timesMs []float64, lockPoints LockPoints, intervalMs float64) error {
	peaks := FindPeaks(trace, timesMs, PeakFinderConfig{Kappa: e.masterCfg.Lock.PeakCriterion})

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(peaks) != 2 {
		e.masterState.HasPeaks = false
		if e.masterEngaged {
			e.masterLockState = MasterMissingPeaks
		}
		return &DetectionAnomaly{Channel: e.masterCfg.InputChannel, Reason: fmt.Sprintf("expected 2 master peaks, found %d", len(peaks))}
	}

	t1, t2 := peaks[0].TimeMs, peaks[1].TimeMs
	if t1 > t2 {
		t1, t2 = t2, t1
	}
	delta := t2 - t1

	e.masterState.PeakTimes = [2]float64{t1, t2}
	e.masterState.Interval = delta
	e.masterState.HasPeaks = true
	e.masterState.ErrorMsPrev = e.masterState.ErrorMs
	errMs := t1 - lockPoints.MasterMs
	e.masterState.ErrorMs = errMs

	if delta == 0 {
		return &DetectionAnomaly{Channel: e.masterCfg.InputChannel, Reason: "master peak interval is zero"}
	}

	mhzErr := errMs * (e.geometry.CavityFSRGHz * 1000) / delta
	e.masterRing.push(mhzErr)
	rms := e.masterRing.rms(e.masterCfg.Lock.RMSWindow)
	locked := rms < e.masterCfg.Lock.RMSThreshold

	if e.masterEngaged {
		if locked {
			e.masterLockState = MasterLocked
		} else {
			e.masterLockState = MasterTracking
		}
	}

	e.masterPI.Update(mhzErr, intervalMs)
	if e.masterEngaged {
		if err := e.clock.MoveOffset(volts(e.masterPI.LastDelta())); err != nil {
			return &AcquisitionError{Channel: e.masterCfg.InputChannel, Err: err}
		}
	}
	return nil
}

// runSlavePath runs PeakFinder on one slave channel, picks the
// closest-to-setpoint peak, applies wrong-peak rejection, updates the
// lock-quality counter, and runs the slave's PI controller.
func (e *LockEngine) runSlavePath(s *slaveRuntime, trace, timesMs []float64, lockPoints LockPoints, intervalMs float64) error {
	e.mu.Lock()
	hasMasterPeaks := e.masterState.HasPeaks
	t1, t2 := e.masterState.PeakTimes[0], e.masterState.PeakTimes[1]
	e.mu.Unlock()
	if !hasMasterPeaks {
		return nil // carry previous error; nothing to compute R against
	}

	peaks := FindPeaks(trace, timesMs, PeakFinderConfig{Kappa: s.cfg.Lock.PeakCriterion})
	if len(peaks) == 0 {
		e.mu.Lock()
		s.state.HasPeak = false
		e.mu.Unlock()
		return &DetectionAnomaly{Channel: s.cfg.InputChannel, Reason: "no peaks found on slave channel"}
	}

	target := lockPoints.SlaveRTarget[s.cfg.Index]

	bestR := ComputeR(t1, t2, peaks[0].TimeMs)
	bestTime := peaks[0].TimeMs
	bestDiff := math.Abs(bestR - target)
	for _, p := range peaks[1:] {
		r := ComputeR(t1, t2, p.TimeMs)
		if d := math.Abs(r - target); d < bestDiff {
			bestDiff, bestR, bestTime = d, r, p.TimeMs
		}
	}

	fs := e.geometry.SlaveFSR(s.cfg.Index)
	fsrMHz := e.geometry.CavityFSRGHz * 1000
	newErr := bestR - target

	e.mu.Lock()
	defer e.mu.Unlock()

	var anomaly error
	jumpMHz := math.Abs(newErr-s.state.Error) * fs * 1000
	if jumpMHz >= wrongPeakFSRFraction*fsrMHz && s.state.RejectCount < 5 {
		s.state.RejectCount++
		anomaly = &DetectionAnomaly{Channel: s.cfg.InputChannel, Reason: "candidate peak rejected as a wrong-peak jump"}
	} else {
		s.state.RejectCount = 0
		s.state.ErrorPrev = s.state.Error
		s.state.Error = newErr
		s.state.R = bestR
		s.state.PeakTimePrev = s.state.PeakTime
		s.state.PeakTime = bestTime
		s.state.HasPeak = true
	}

	mhzErr := s.state.Error * fs * 1000
	s.ring.push(mhzErr)
	rms := s.ring.rms(s.cfg.Lock.RMSWindow)

	if rms < s.cfg.Lock.RMSThreshold {
		s.state.LockCount++
	} else {
		s.state.LockCount = 0
	}
	wasLocked := s.lockState == SlaveLocked
	nowLocked := s.state.LockCount > lockCountThreshold
	if s.lockState != SlaveDisengaged {
		if nowLocked {
			s.lockState = SlaveLocked
		} else {
			s.lockState = SlaveNotLocked
		}
	}
	if nowLocked && !wasLocked {
		s.broadcast.signal()
	}

	s.pi.Update(mhzErr, intervalMs)
	return anomaly
}

// snapshot builds the immutable EngineSnapshot handed to UI/telemetry
// readers; it never hands out a live reference into engine-owned state.
func (e *LockEngine) snapshot() EngineSnapshot {
	slaves := make(map[int]SlaveState, len(e.slaves))
	locked := make(map[int]bool, len(e.slaves))
	for k, s := range e.slaves {
		slaves[k] = s.state
		locked[k] = s.lockState == SlaveLocked
	}
	return EngineSnapshot{
		Iteration:    e.iteration,
		Master:       e.masterState,
		MasterLocked: e.masterLockState == MasterLocked,
		Slaves:       slaves,
		SlaveLocked:  locked,
		ScanOffset:   voltsF(e.clock.Config().Offset),
		ScanHz:       e.scanHzAverage(),
	}
}

func (r *errorRing) lastPushed() float64 {
	if r.count == 0 {
		return 0
	}
	idx := (r.next - 1 + ringSize) % ringSize
	return r.buf[idx]
}

// EngageMaster engages the cavity lock. It is a no-op if already engaged.
func (e *LockEngine) EngageMaster() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.masterEngaged {
		return
	}
	e.masterEngaged = true
	e.masterLockState = MasterTracking
}

// DisengageMaster forcibly disengages all slaves, zeros every error ring
// and controller, and clears RMS state.
func (e *LockEngine) DisengageMaster() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.masterEngaged = false
	e.masterLockState = MasterDisengaged
	e.masterRing.reset()
	e.masterPI.Reset()
	e.masterState = MasterState{}

	for _, s := range e.slaves {
		e.disengageSlaveLocked(s)
	}
}

// EngageSlave engages slave k's lock. Requires the master to already be
// engaged.
func (e *LockEngine) EngageSlave(k int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.masterEngaged {
		return &ConfigurationError{Reason: "cannot engage a slave lock while the master is disengaged"}
	}
	s, ok := e.slaves[k]
	if !ok {
		return &ConfigurationError{Reason: fmt.Sprintf("no such slave %d", k)}
	}
	s.lockState = SlaveNotLocked
	s.state.LockCount = 0
	return nil
}

// DisengageSlave disengages slave k's lock and restores its controls to
// manual.
func (e *LockEngine) DisengageSlave(k int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.slaves[k]; ok {
		e.disengageSlaveLocked(s)
	}
}

func (e *LockEngine) disengageSlaveLocked(s *slaveRuntime) {
	s.lockState = SlaveDisengaged
	s.ring.reset()
	s.pi.Reset()
	s.state = SlaveState{}
	s.ownedBySweep = false
}

// IsSlaveLocked reports whether slave k currently satisfies the
// lock-quality criterion.
func (e *LockEngine) IsSlaveLocked(k int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slaves[k]
	return ok && s.lockState == SlaveLocked
}

// WaitForSlaveLock blocks until slave k becomes locked, ctx is canceled,
// or timeout elapses, returning true only on the locked case.
func (e *LockEngine) WaitForSlaveLock(ctx context.Context, k int, timeout time.Duration) bool {
	e.mu.Lock()
	s, ok := e.slaves[k]
	e.mu.Unlock()
	if !ok {
		return false
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if e.IsSlaveLocked(k) {
			return true
		}
		select {
		case <-s.broadcast.wait():
			continue
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// SetSlaveRTarget sets slave k's target R, unless the slave is currently
// owned by a running sweep (decided Open Question: reject, don't race).
func (e *LockEngine) SetSlaveRTarget(k int, r float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slaves[k]
	if !ok {
		return &ConfigurationError{Reason: fmt.Sprintf("no such slave %d", k)}
	}
	if s.ownedBySweep {
		return &ConfigurationError{Reason: fmt.Sprintf("slave %d's setpoint is owned by a running sweep", k)}
	}
	e.lockPoints.SlaveRTarget[k] = r
	return nil
}

// acquireSweepOwnership is called by SweepEngine before it starts
// driving a slave's setpoint directly.
func (e *LockEngine) acquireSweepOwnership(k int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slaves[k]
	if !ok {
		return &ConfigurationError{Reason: fmt.Sprintf("no such slave %d", k)}
	}
	if s.ownedBySweep {
		return &ConfigurationError{Reason: fmt.Sprintf("slave %d already owned by a sweep", k)}
	}
	s.ownedBySweep = true
	return nil
}

func (e *LockEngine) releaseSweepOwnership(k int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.slaves[k]; ok {
		s.ownedBySweep = false
	}
}

// sweepSetRTarget is the setpoint path used by SweepEngine while it owns
// the slave, bypassing the ownership check SetSlaveRTarget enforces.
func (e *LockEngine) sweepSetRTarget(k int, r float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lockPoints.SlaveRTarget[k] = r
}

func (e *LockEngine) resetSlaveLockCounter(k int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.slaves[k]; ok {
		s.state.LockCount = 0
		if s.lockState == SlaveLocked {
			s.lockState = SlaveNotLocked
		}
	}
}

// Snapshot returns the current EngineSnapshot without running an
// iteration, for UI/operator consumers.
func (e *LockEngine) Snapshot() EngineSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

// MoveMasterLockpoint sets the master's target time within the scan
// window, in milliseconds.
func (e *LockEngine) MoveMasterLockpoint(ms float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lockPoints.MasterMs = ms
}

// resolveSlaveSetpoint translates a requested detuning for slave k into a
// (sector, R_target) pair using the slave's current FSR.
func (e *LockEngine) resolveSlaveSetpoint(k int, detuningMHz float64) (sector int, rTarget float64) {
	e.mu.Lock()
	fs := e.geometry.SlaveFSR(k)
	fc := e.geometry.CavityFSRGHz
	e.mu.Unlock()
	return ResolveSetpoint(detuningMHz, fc, fs)
}

func (e *LockEngine) setSlaveSector(k, sector int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.slaves[k]; ok {
		s.state.Sector = sector
	}
}

func (e *LockEngine) scanDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.Config().Duration
}

// WaitForSlaveLockIndefinite blocks until slave k becomes locked or ctx
// is canceled, with no timeout: the continuous sweep's re-lock wait has
// no natural deadline, unlike the discrete sweep's per-target lock
// timeout, so it relies on the caller's stop signal instead.
func (e *LockEngine) WaitForSlaveLockIndefinite(ctx context.Context, k int) bool {
	e.mu.Lock()
	s, ok := e.slaves[k]
	e.mu.Unlock()
	if !ok {
		return false
	}
	for {
		if e.IsSlaveLocked(k) {
			return true
		}
		select {
		case <-s.broadcast.wait():
			continue
		case <-ctx.Done():
			return false
		}
	}
}
