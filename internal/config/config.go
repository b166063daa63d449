// Package config loads run configuration. Files are written in CUE or JSON
// and validated against an embedded schema that also supplies defaults.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/firevox/internal/radiation"
)

//go:embed schema.cue
var schemaCUE string

// Config is the validated run configuration.
type Config struct {
	VoxelLength        float64
	PlaneSize          int
	TimeStep           float64
	MaxGenerations     int64
	AmbientTemperature float64
	ExposedFacesOnly   bool
	StrictTiles        bool
	ActivityThreshold  float64

	Barrier  Barrier
	Worker   Worker
	Progress Progress
}

// Barrier configures the synchronisation trigger.
type Barrier struct {
	Interval time.Duration
}

// Worker configures a consumer process.
type Worker struct {
	Concurrency  int
	BatchSize    int
	Lease        time.Duration
	PollInterval time.Duration
}

// Progress configures the progress stream.
type Progress struct {
	Addr string
}

// FinderOptions returns the plane extraction options implied by c.
func (c Config) FinderOptions() []radiation.FinderOption {
	return []radiation.FinderOption{
		radiation.WithVoxelLength(c.VoxelLength),
		radiation.WithPlaneSize(c.PlaneSize),
		radiation.WithExposedFacesOnly(c.ExposedFacesOnly),
		radiation.WithStrictTiles(c.StrictTiles),
	}
}

// raw mirrors the schema. Durations arrive as strings.
type raw struct {
	VoxelLength        float64 `json:"voxel_length"`
	PlaneSize          int     `json:"plane_size"`
	TimeStep           float64 `json:"time_step"`
	MaxGenerations     int64   `json:"max_generations"`
	AmbientTemperature float64 `json:"ambient_temperature"`
	ExposedFacesOnly   bool    `json:"exposed_faces_only"`
	StrictTiles        bool    `json:"strict_tiles"`
	ActivityThreshold  float64 `json:"activity_threshold"`
	Barrier            struct {
		Interval string `json:"interval"`
	} `json:"barrier"`
	Worker struct {
		Concurrency  int    `json:"concurrency"`
		BatchSize    int    `json:"batch_size"`
		Lease        string `json:"lease"`
		PollInterval string `json:"poll_interval"`
	} `json:"worker"`
	Progress struct {
		Addr string `json:"addr"`
	} `json:"progress"`
}

// Error reports an invalid configuration, with the source position when
// CUE knows it.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Default returns the configuration with every default applied.
func Default() Config {
	c, err := Parse("", nil)
	if err != nil {
		panic(fmt.Sprintf("embedded config schema: %v", err))
	}
	return c
}

// Load reads a CUE or JSON file and validates it. An empty path yields the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(path, data)
}

// Parse unifies data with the schema, requires the result to be concrete
// and decodes it. filename only labels error positions.
func Parse(filename string, data []byte) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, convertError(err)
	}
	value := schema.LookupPath(cue.ParsePath("#Config"))

	if len(data) > 0 {
		user := ctx.CompileBytes(data, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return Config{}, convertError(err)
		}
		value = value.Unify(user)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return Config{}, convertError(err)
	}

	var r raw
	if err := value.Decode(&r); err != nil {
		return Config{}, convertError(err)
	}

	c := Config{
		VoxelLength:        r.VoxelLength,
		PlaneSize:          r.PlaneSize,
		TimeStep:           r.TimeStep,
		MaxGenerations:     r.MaxGenerations,
		AmbientTemperature: r.AmbientTemperature,
		ExposedFacesOnly:   r.ExposedFacesOnly,
		StrictTiles:        r.StrictTiles,
		ActivityThreshold:  r.ActivityThreshold,
		Worker: Worker{
			Concurrency: r.Worker.Concurrency,
			BatchSize:   r.Worker.BatchSize,
		},
		Progress: Progress{Addr: r.Progress.Addr},
	}
	durations := []struct {
		dst  *time.Duration
		src  string
		name string
	}{
		{&c.Barrier.Interval, r.Barrier.Interval, "barrier.interval"},
		{&c.Worker.Lease, r.Worker.Lease, "worker.lease"},
		{&c.Worker.PollInterval, r.Worker.PollInterval, "worker.poll_interval"},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.src)
		if err != nil {
			return Config{}, &Error{Message: fmt.Sprintf("%s: %v", d.name, err)}
		}
		if v <= 0 {
			return Config{}, &Error{Message: fmt.Sprintf("%s must be positive", d.name)}
		}
		*d.dst = v
	}
	return c, nil
}

// convertError keeps the first CUE error with its position.
func convertError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	first := errs[0]
	format, args := first.Msg()
	msg := fmt.Sprintf(format, args...)
	if path := first.Path(); len(path) > 0 {
		msg = strings.Join(path, ".") + ": " + msg
	}
	return &Error{Message: msg, Pos: first.Position()}
}
