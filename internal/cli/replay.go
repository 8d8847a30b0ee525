package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"fleet-monitor/geotrack/internal/config"
	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/pipeline"
	"fleet-monitor/geotrack/internal/store"
	"fleet-monitor/geotrack/internal/tags"
)

type ReplayOptions struct {
	*RootOptions
	DeviceID   string
	LoginID    string
	DeviceTags []string
	LoginTags  []string
	Activity   string
}

func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <track.jsonl>",
		Short: "Run a recorded track through the evaluation pipeline",
		Long: `Replay a JSON-lines file of position samples, one per line, through a
single device session. Time follows each sample's captured_at, so window
boundaries fall where they would have live. Events and commands are written to
stdout as JSON lines. Use - to read the track from stdin.

Examples:
  geotrack replay --settings config/settings.yaml track.jsonl
  geotrack replay --settings s.yaml --device van-01 --device-tags van,north track.jsonl
  cat track.jsonl | geotrack replay --settings s.yaml -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.DeviceID, "device", "replay", "device id the track belongs to")
	cmd.Flags().StringVar(&opts.LoginID, "login", "", "login active during the track")
	cmd.Flags().StringSliceVar(&opts.DeviceTags, "device-tags", nil, "tags of the device")
	cmd.Flags().StringSliceVar(&opts.LoginTags, "login-tags", nil, "tags of the login")
	cmd.Flags().StringVar(&opts.Activity, "activity", "", "fixed activity reported by the device, e.g. STILL")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command, path string) error {
	ctx := commandContext(cmd)

	settings := config.DefaultSettings()
	if opts.SettingsPath != "" {
		var err error
		settings, err = config.LoadSettings(opts.SettingsPath)
		if err != nil {
			return err
		}
	}

	in := cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open track: %w", err)
		}
		defer f.Close()
		in = f
	}
	track, err := readTrack(in)
	if err != nil {
		return err
	}

	out := newLineWriter(cmd.OutOrStdout())
	deps := pipeline.Deps{
		Settings: func() *config.Settings { return settings },
		Store:    store.NewMemoryStore(),
		Directory: tags.StaticDirectory{
			Devices: map[string][]string{opts.DeviceID: opts.DeviceTags},
			Logins:  map[string][]string{opts.LoginID: opts.LoginTags},
		},
		Events:   out,
		Commands: out,
	}
	if opts.Activity != "" {
		deps.Activity = fixedActivity(opts.Activity)
	}

	r := pipeline.NewReplayer(ctx, opts.DeviceID, opts.LoginID, trackStart(track), deps)
	for _, p := range track {
		r.Feed(ctx, p)
	}
	r.Finish(ctx)

	if out.err != nil {
		return fmt.Errorf("write output: %w", out.err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "replayed %d samples: %d events, %d commands\n",
		len(track), out.events, out.commands)
	return nil
}

// readTrack parses one PositionSample per line. Blank lines are skipped.
func readTrack(r io.Reader) ([]domain.PositionSample, error) {
	var track []domain.PositionSample
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var p domain.PositionSample
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("track line %d: %w", line, err)
		}
		track = append(track, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read track: %w", err)
	}
	if len(track) == 0 {
		return nil, errors.New("track is empty")
	}
	return track, nil
}

// trackStart is the first capture time in the track, or the Unix epoch when no
// sample carries one.
func trackStart(track []domain.PositionSample) time.Time {
	for _, p := range track {
		if !p.CapturedAt.IsZero() {
			return p.CapturedAt
		}
	}
	return time.Unix(0, 0).UTC()
}

type fixedActivity string

func (a fixedActivity) CurrentActivity(context.Context, string) (any, error) {
	return string(a), nil
}

type outputLine struct {
	Type    string          `json:"type"`
	Event   *domain.Event   `json:"event,omitempty"`
	Command *domain.Command `json:"command,omitempty"`
}

// lineWriter prints events and commands as they are produced. It also hands out
// command generations, since replay has no effects worker.
type lineWriter struct {
	mu          sync.Mutex
	enc         *json.Encoder
	err         error
	events      int
	commands    int
	generations map[string]uint64
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{enc: json.NewEncoder(w), generations: make(map[string]uint64)}
}

func (w *lineWriter) write(line outputLine) {
	if w.err != nil {
		return
	}
	w.err = w.enc.Encode(line)
}

func (w *lineWriter) Emit(ev domain.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events++
	w.write(outputLine{Type: "event", Event: &ev})
}

func (w *lineWriter) Enqueue(cmd domain.Command) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.commands++
	w.write(outputLine{Type: "command", Command: &cmd})
	return true
}

func (w *lineWriter) Advance(deviceID string) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.generations[deviceID]++
	return w.generations[deviceID]
}
