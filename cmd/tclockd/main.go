/*------------------------------------------------------------------
 *
 * Purpose:	Main program for tclockd, the transfer-cavity laser
 *		frequency stabilization daemon.
 *
 * Description:	Reads a configuration file describing the cavity scan,
 *		the master lock, and up to two slave laser locks; runs
 *		the control loop until interrupted; and accepts a small
 *		set of operator commands on stdin to engage/disengage
 *		locks and start/stop sweeps.
 *
 *------------------------------------------------------------------*/
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"periph.io/x/conn/v3/physic"

	"github.com/ograsdijk/tclockd/internal/config"
	"github.com/ograsdijk/tclockd/internal/engine"
	"github.com/ograsdijk/tclockd/internal/ioport"
	"github.com/ograsdijk/tclockd/internal/telemetry"
	"github.com/ograsdijk/tclockd/internal/wavemeter"
)

func main() {
	var configFileName = pflag.StringP("config-file", "c", "tclockd.conf", "Configuration file name.")
	var logDir = pflag.StringP("log-dir", "l", "telemetry", "Directory for daily-rotated telemetry CSV files.")
	var quiet = pflag.BoolP("quiet", "q", false, "Suppress informational logging; only warnings and errors.")
	var debug = pflag.BoolP("debug", "d", false, "Enable debug-level logging.")
	var simulate = pflag.BoolP("simulate", "s", false, "Drive a synthetic AnalogIO instead of a real one; for development and tests.")
	var presetsFile = pflag.String("sweep-presets", "", "Optional YAML file of named sweep presets (see \"sweep preset <name>\" console command).")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "tclockd - transfer-cavity laser frequency stabilization daemon.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Usage: tclockd [options]\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(1)
	}

	logger := log.New(os.Stderr)
	switch {
	case *debug:
		logger.SetLevel(log.DebugLevel)
	case *quiet:
		logger.SetLevel(log.WarnLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}

	if !*simulate {
		logger.Fatal("no non-simulated AnalogIO backend is wired in this build; pass --simulate")
	}

	cfgFile, err := os.Open(*configFileName)
	if err != nil {
		logger.Fatal("cannot open configuration file", "path", *configFileName, "err", err)
	}
	parsed, warnings, err := config.Parse(cfgFile)
	cfgFile.Close()
	if err != nil {
		logger.Fatal("configuration error", "err", err)
	}
	for _, w := range warnings {
		logger.Warn(w)
	}

	engineCfg, rampChannel, err := parsed.ToEngineConfig()
	if err != nil {
		logger.Fatal("configuration error", "err", err)
	}

	io := buildSimulatedIO(engineCfg)

	sink, err := telemetry.NewSink(*logDir)
	if err != nil {
		logger.Fatal("cannot start telemetry sink", "err", err)
	}
	defer sink.Close()

	eng, err := engine.NewLockEngine(io, sink, wavemeter.Stub{}, engineCfg, rampChannel)
	if err != nil {
		logger.Fatal("cannot build lock engine", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		logger.Fatal("cannot start scan timing", "err", err)
	}
	defer eng.Shutdown()

	sweep := engine.NewSweepEngine(eng)

	var presets []config.SweepPreset
	if *presetsFile != "" {
		presets, err = config.LoadSweepPresetsFile(*presetsFile)
		if err != nil {
			logger.Fatal("cannot load sweep presets", "err", err)
		}
		logger.Info("loaded sweep presets", "count", len(presets))
	}

	go runOperatorConsole(ctx, logger, eng, sweep, presets)

	logger.Info("control loop starting")
	for ctx.Err() == nil {
		if _, err := eng.RunIteration(ctx); err != nil {
			logger.Warn("iteration reported a soft error", "err", err)
		}
	}
	logger.Info("control loop stopped")
}

// buildSimulatedIO wires a development-only synthetic AnalogIO so the
// binary runs end to end without real hardware; the scene's peak
// positions roughly straddle the configured scan window.
func buildSimulatedIO(cfg engine.EngineConfig) ioport.AnalogIO {
	slavePeaks := make(map[ioport.Channel]ioport.SimulatedPeak, len(cfg.Slaves))
	for i, s := range cfg.Slaves {
		slavePeaks[s.InputChannel] = ioport.SimulatedPeak{
			TimeMs:    cfg.Scan.Duration.Seconds() * 1000 * (0.3 + 0.1*float64(i)),
			WidthMs:   cfg.Scan.Duration.Seconds() * 1000 * 0.01,
			Amplitude: physic.Volt,
		}
	}
	return ioport.NewSimulated(ioport.SimulatedConfig{
		MasterPeaks: [2]ioport.SimulatedPeak{
			{TimeMs: cfg.Scan.Duration.Seconds() * 1000 * 0.35, WidthMs: cfg.Scan.Duration.Seconds() * 1000 * 0.01, Amplitude: physic.Volt},
			{TimeMs: cfg.Scan.Duration.Seconds() * 1000 * 0.65, WidthMs: cfg.Scan.Duration.Seconds() * 1000 * 0.01, Amplitude: physic.Volt},
		},
		SlavePeaks:  slavePeaks,
		NoiseStdDev: physic.ElectricPotential(0.01 * float64(physic.Volt)),
		Baseline:    0,
	})
}

// runOperatorConsole reads simple line commands from stdin: "engage",
// "disengage", "engage <slave>", "disengage <slave>", "sweep discrete
// <slave> <start> <stop> <step> <dwellSeconds>", "sweep continuous
// <slave> <start> <stop> <speed>", "sweep preset <name>", "stop <slave>",
// "status", "status <slave>", "quit".
func runOperatorConsole(ctx context.Context, logger *log.Logger, eng *engine.LockEngine, sweep *engine.SweepEngine, presets []config.SweepPreset) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch strings.ToLower(fields[0]) {
		case "engage":
			if len(fields) == 1 {
				eng.EngageMaster()
				logger.Info("master engaged")
				continue
			}
			k, err := strconv.Atoi(fields[1])
			if err != nil {
				logger.Warn("bad slave index", "arg", fields[1])
				continue
			}
			if err := eng.EngageSlave(k); err != nil {
				logger.Warn("engage slave failed", "slave", k, "err", err)
				continue
			}
			logger.Info("slave engaged", "slave", k)

		case "disengage":
			if len(fields) == 1 {
				eng.DisengageMaster()
				logger.Info("master disengaged")
				continue
			}
			k, err := strconv.Atoi(fields[1])
			if err != nil {
				logger.Warn("bad slave index", "arg", fields[1])
				continue
			}
			eng.DisengageSlave(k)
			logger.Info("slave disengaged", "slave", k)

		case "sweep":
			if len(fields) >= 3 && strings.EqualFold(fields[1], "preset") {
				runSweepPreset(ctx, logger, sweep, presets, fields[2])
				continue
			}
			handleSweepCommand(ctx, logger, sweep, fields[1:])

		case "stop":
			if len(fields) < 2 {
				logger.Warn("stop requires a slave index")
				continue
			}
			k, err := strconv.Atoi(fields[1])
			if err != nil {
				logger.Warn("bad slave index", "arg", fields[1])
				continue
			}
			sweep.Stop(k)
			if reason := sweep.LastAbort(k); reason != nil {
				logger.Info("sweep stopped", "slave", k, "reason", reason)
			}

		case "status":
			if len(fields) >= 2 {
				k, err := strconv.Atoi(fields[1])
				if err != nil {
					logger.Warn("bad slave index", "arg", fields[1])
					continue
				}
				st := sweep.Status(k)
				logger.Info("sweep status", "slave", k, "mode", st.Mode, "active", st.Active,
					"target_mhz", st.CurrentTargetMHz, "progress_pct", st.ProgressPercent)
				if reason := sweep.LastAbort(k); reason != nil {
					logger.Info("last sweep abort", "slave", k, "reason", reason)
				}
				continue
			}
			snap := eng.Snapshot()
			logger.Info("status", "iteration", snap.Iteration, "master_locked", snap.MasterLocked)

		case "quit":
			return

		default:
			logger.Warn("unrecognized command", "command", fields[0])
		}
	}
}

// runSweepPreset looks up a named sweep preset and starts it, so a
// recurring sweep can be launched without retyping its parameters.
func runSweepPreset(ctx context.Context, logger *log.Logger, sweep *engine.SweepEngine, presets []config.SweepPreset, name string) {
	preset, ok := config.FindPreset(presets, name)
	if !ok {
		logger.Warn("no such sweep preset", "name", name)
		return
	}

	var err error
	switch preset.Mode {
	case "discrete":
		err = sweep.StartDiscrete(ctx, preset.Slave, preset.StartMHz, preset.StopMHz, preset.StepMHz,
			time.Duration(preset.DwellSeconds*float64(time.Second)))
	case "continuous":
		err = sweep.StartContinuous(ctx, preset.Slave, preset.StartMHz, preset.StopMHz, preset.SpeedMHzPerSec)
	}
	if err != nil {
		logger.Warn("sweep preset failed", "name", name, "err", err)
		return
	}
	logger.Info("sweep preset started", "name", name, "slave", preset.Slave, "mode", preset.Mode)
}

func handleSweepCommand(ctx context.Context, logger *log.Logger, sweep *engine.SweepEngine, args []string) {
	if len(args) < 1 {
		logger.Warn("sweep requires a mode")
		return
	}
	mode := strings.ToLower(args[0])
	rest := args[1:]

	switch mode {
	case "discrete":
		if len(rest) != 5 {
			logger.Warn("usage: sweep discrete <slave> <start> <stop> <step> <dwellSeconds>")
			return
		}
		slave, start, stop, step, dwellSec, err := parseFive(rest)
		if err != nil {
			logger.Warn("bad sweep arguments", "err", err)
			return
		}
		if err := sweep.StartDiscrete(ctx, int(slave), start, stop, step, time.Duration(dwellSec*float64(time.Second))); err != nil {
			logger.Warn("sweep discrete failed", "err", err)
		}

	case "continuous":
		if len(rest) != 4 {
			logger.Warn("usage: sweep continuous <slave> <start> <stop> <speed>")
			return
		}
		slaveF, start, stop, speed, err := parseFour(rest)
		if err != nil {
			logger.Warn("bad sweep arguments", "err", err)
			return
		}
		if err := sweep.StartContinuous(ctx, int(slaveF), start, stop, speed); err != nil {
			logger.Warn("sweep continuous failed", "err", err)
		}

	default:
		logger.Warn("unrecognized sweep mode", "mode", mode)
	}
}

func parseFive(args []string) (a, b, c, d, e float64, err error) {
	vals := make([]float64, 5)
	for i, s := range args {
		vals[i], err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, 0, 0, 0, 0, err
		}
	}
	return vals[0], vals[1], vals[2], vals[3], vals[4], nil
}

func parseFour(args []string) (a, b, c, d float64, err error) {
	vals := make([]float64, 4)
	for i, s := range args {
		vals[i], err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, 0, 0, 0, err
		}
	}
	return vals[0], vals[1], vals[2], vals[3], nil
}
