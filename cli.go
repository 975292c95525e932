package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"aecm/internal/aec"
	"aecm/internal/agc"
	"aecm/internal/config"
	"aecm/internal/noisegate"
	"aecm/internal/offline"
	"aecm/internal/store"
	"aecm/internal/wavio"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(ctx context.Context, args []string, prefs config.Config, dbPath string, out io.Writer) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}

	c := &cli{prefs: prefs, dbPath: dbPath, out: out}
	subcmd := args[0]
	switch subcmd {
	case "version":
		fmt.Fprintf(out, "aecm %s\n", Version)
		return true, nil
	case "process":
		return true, c.process(ctx, args[1:])
	case "simulate":
		return true, c.simulate(args[1:])
	case "profiles":
		return true, c.profiles(ctx, args[1:])
	case "runs":
		return true, c.runs(ctx, args[1:])
	case "config":
		return true, c.config(args[1:])
	default:
		return false, nil
	}
}

type cli struct {
	prefs  config.Config
	dbPath string
	out    io.Writer
}

func (c *cli) openStore() (*store.Store, error) {
	path := c.dbPath
	if path == "" {
		path = c.prefs.Database
	}
	if path == "" {
		p, err := config.DatabasePath()
		if err != nil {
			return nil, fmt.Errorf("locate database: %w", err)
		}
		path = p
	}
	return store.Open(path)
}

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.out)
	return fs
}

func cngMode(on bool) aec.CNGMode {
	if on {
		return aec.CNGOn
	}
	return aec.CNGOff
}

func (c *cli) process(ctx context.Context, args []string) error {
	fs := c.flagSet("process")
	farPath := fs.String("far", "", "far-end (playback) WAV file")
	nearPath := fs.String("near", "", "near-end (capture) WAV file")
	outPath := fs.String("out", "out.wav", "output WAV file")
	mode := fs.String("mode", c.prefs.Mode, "suppression: mild, medium, high, aggressive, most-aggressive")
	cng := fs.Bool("cng", c.prefs.CNG, "inject comfort noise")
	delayMs := fs.Int("delay", c.prefs.MsInSndCardBuf, "sound card buffer delay hint in ms")
	profile := fs.String("profile", c.prefs.Profile, "echo path profile name")
	load := fs.Bool("load-path", false, "start from the profile's stored echo path")
	save := fs.Bool("save-path", false, "store the adapted echo path under the profile")
	record := fs.Bool("record", true, "record the run in the history")
	gate := fs.Int("gate", -1, "noise gate threshold 0-100 for the clean near end (negative disables)")
	agcTarget := fs.Int("agc", -1, "output level target 0-100 (negative disables)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *farPath == "" || *nearPath == "" {
		return fmt.Errorf("-far and -near are required")
	}

	m, err := aec.ParseMode(*mode)
	if err != nil {
		return err
	}
	cfg := aec.Config{Mode: m, CNG: cngMode(*cng)}

	far, err := wavio.Read(*farPath)
	if err != nil {
		return err
	}
	near, err := wavio.Read(*nearPath)
	if err != nil {
		return err
	}
	if far.SampleRate != near.SampleRate {
		return fmt.Errorf("far end is %d Hz, near end is %d Hz", far.SampleRate, near.SampleRate)
	}
	rate := near.SampleRate

	var st *store.Store
	if *load || *save || *record {
		st, err = c.openStore()
		if err != nil {
			return err
		}
		defer st.Close()
	}

	opts := offline.Options{Config: cfg, MsInSndCardBuf: *delayMs}
	if *gate >= 0 {
		opts.Gate = noisegate.New()
		opts.Gate.SetThreshold(*gate)
	}
	if *agcTarget >= 0 {
		opts.AGC = agc.New()
		opts.AGC.SetTarget(*agcTarget)
	}
	if *load {
		p, err := st.EchoPath(ctx, *profile, rate)
		switch {
		case errors.Is(err, store.ErrEchoPathNotFound):
			slog.Info("no stored echo path, adapting from scratch", "profile", *profile, "rate", rate)
		case err != nil:
			return err
		default:
			opts.EchoPath = p.Snapshot
		}
	}

	started := time.Now().UTC()
	res, err := offline.Run(ctx, rate, far.Samples, near.Samples, opts)
	if err != nil {
		return err
	}
	if err := wavio.Write(*outPath, rate, res.Output); err != nil {
		return err
	}

	if *save {
		err := st.SaveEchoPath(ctx, store.EchoPath{
			Profile:    *profile,
			SampleRate: rate,
			Mode:       m.String(),
			CNG:        *cng,
			Snapshot:   res.EchoPath,
		})
		if err != nil {
			return err
		}
	}
	if *record {
		id, err := st.InsertRun(ctx, store.Run{
			Profile:            *profile,
			FarPath:            *farPath,
			NearPath:           *nearPath,
			OutPath:            *outPath,
			SampleRate:         rate,
			Frames:             int64(res.Frames),
			Mode:               m.String(),
			CNG:                *cng,
			ERLE:               res.Stats.ERLE,
			Delay:              res.Stats.Delay,
			DivergenceResets:   int64(res.Stats.DivergenceResets),
			InsufficientFarend: int64(res.Stats.InsufficientFarend),
			StartedAt:          started,
			Duration:           res.Duration,
		})
		if err != nil {
			return err
		}
		slog.Debug("run recorded", "run_id", id)
	}

	fmt.Fprintf(c.out, "Processed %d frames at %d Hz in %s\n", res.Frames, rate, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(c.out, "ERLE: %.1f dB, delay: %d ms, divergence resets: %d\n",
		res.Stats.ERLE, res.Stats.Delay*aec.FrameMs, res.Stats.DivergenceResets)
	if opts.AGC != nil {
		fmt.Fprintf(c.out, "AGC gain: %.2f\n", res.AGCGain)
	}
	fmt.Fprintf(c.out, "Output written to %s\n", *outPath)
	return nil
}

func (c *cli) simulate(args []string) error {
	fs := c.flagSet("simulate")
	farPath := fs.String("far", "far.wav", "far-end WAV file to write")
	nearPath := fs.String("near", "near.wav", "near-end WAV file to write")
	rate := fs.Int("rate", c.prefs.SampleRate, "sample rate (8000 or 16000)")
	seconds := fs.Float64("seconds", 5, "duration in seconds")
	delayMs := fs.Int("delay", 60, "bulk echo delay in ms")
	noise := fs.Float64("noise", 0.001, "background noise amplitude")
	doubleTalk := fs.Bool("double-talk", false, "add a near-end talker in the middle third")
	seed := fs.Uint("seed", 1, "random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	far, near, err := offline.Simulate(offline.Scenario{
		SampleRate: *rate,
		Seconds:    *seconds,
		DelayMs:    *delayMs,
		NoiseLevel: *noise,
		DoubleTalk: *doubleTalk,
		Seed:       uint32(*seed),
	})
	if err != nil {
		return err
	}
	if err := wavio.Write(*farPath, *rate, far); err != nil {
		return err
	}
	if err := wavio.Write(*nearPath, *rate, near); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Wrote %s and %s (%d samples at %d Hz, %d ms echo delay)\n", *farPath, *nearPath, len(far), *rate, *delayMs)
	return nil
}

func (c *cli) profiles(ctx context.Context, args []string) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		paths, err := st.ListEchoPaths(ctx)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			fmt.Fprintln(c.out, "No echo paths stored.")
			return nil
		}
		for _, p := range paths {
			fmt.Fprintf(c.out, "  %-16s %5d Hz  %-15s cng=%-5v %s\n",
				p.Profile, p.SampleRate, p.Mode, p.CNG, p.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	}

	usage := fmt.Errorf("usage: aecm profiles [list|delete <name> <rate>|export <name> <rate> <file>|import <name> <rate> <file>]")
	if len(args) < 3 {
		return usage
	}
	name := args[1]
	rate, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("rate %q: %w", args[2], err)
	}

	switch {
	case args[0] == "delete":
		if err := st.DeleteEchoPath(ctx, name, rate); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Deleted echo path %q at %d Hz\n", name, rate)
		return nil

	case args[0] == "export" && len(args) > 3:
		p, err := st.EchoPath(ctx, name, rate)
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[3], p.Snapshot, 0o644); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		fmt.Fprintf(c.out, "Exported echo path %q at %d Hz to %s\n", name, rate, args[3])
		return nil

	case args[0] == "import" && len(args) > 3:
		snap, err := os.ReadFile(args[3])
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		if err := checkSnapshot(rate, snap); err != nil {
			return err
		}
		err = st.SaveEchoPath(ctx, store.EchoPath{
			Profile:    name,
			SampleRate: rate,
			Mode:       c.prefs.Mode,
			CNG:        c.prefs.CNG,
			Snapshot:   snap,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Imported echo path %q at %d Hz\n", name, rate)
		return nil
	}
	return usage
}

// checkSnapshot makes sure an engine at rate accepts snap.
func checkSnapshot(rate int, snap []byte) error {
	e := aec.New()
	defer e.Close()
	if err := e.Init(rate); err != nil {
		return err
	}
	return e.SetEchoPath(snap)
}

func (c *cli) runs(ctx context.Context, args []string) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if len(args) > 1 && args[0] == "show" {
		r, err := st.Run(ctx, args[1])
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("encode run: %w", err)
		}
		fmt.Fprintln(c.out, string(data))
		return nil
	}

	if len(args) > 0 && args[0] == "list" {
		args = args[1:]
	}
	fs := c.flagSet("runs")
	limit := fs.Int("n", 20, "number of runs to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	runs, err := st.Runs(ctx, *limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(c.out, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(c.out, "  %s  %s  %-12s %6d frames  ERLE %5.1f dB  %s\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.Profile, r.Frames, r.ERLE, r.NearPath)
	}
	return nil
}

func (c *cli) config(args []string) error {
	if len(args) == 0 || args[0] == "show" {
		data, err := json.MarshalIndent(c.prefs, "", "  ")
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		fmt.Fprintln(c.out, string(data))
		return nil
	}
	if args[0] == "path" {
		p, err := config.Path()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, p)
		return nil
	}
	if args[0] == "set" && len(args) > 2 {
		key, value := args[1], args[2]
		cfg := c.prefs
		if err := setPreference(&cfg, key, value); err != nil {
			return err
		}
		if err := config.Save(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		c.prefs = cfg
		fmt.Fprintf(c.out, "Set %s = %s\n", key, value)
		return nil
	}
	return fmt.Errorf("usage: aecm config [show|path|set <key> <value>]")
}

func setPreference(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "mode":
		m, err := aec.ParseMode(value)
		if err != nil {
			return err
		}
		cfg.Mode = m.String()
	case "cng":
		on, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cng %q: %w", value, err)
		}
		cfg.CNG = on
	case "rate", "sample_rate":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("rate %q: %w", value, err)
		}
		if _, err := aec.FrameLengthFor(rate); err != nil {
			return err
		}
		cfg.SampleRate = rate
	case "delay", "ms_in_snd_card_buf":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("delay %q: %w", value, err)
		}
		if ms < 0 || ms > aec.MaxDelayMs {
			return fmt.Errorf("delay must be within [0, %d] ms", aec.MaxDelayMs)
		}
		cfg.MsInSndCardBuf = ms
	case "profile":
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("profile name is required")
		}
		cfg.Profile = value
	case "database":
		cfg.Database = value
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}
