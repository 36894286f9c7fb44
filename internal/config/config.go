package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"coursecal/internal/model"
)

// DedupConfig tunes the duplicate matcher. The thresholds are policy
// choices, so they live in configuration rather than code.
type DedupConfig struct {
	// StartToleranceMinutes is the window within which two start times are
	// considered the same occurrence.
	StartToleranceMinutes int `yaml:"start_tolerance_minutes" json:"start_tolerance_minutes"`

	// TitleDistanceRatio is the maximum edit distance between two
	// normalized titles, expressed as a fraction of the longer title.
	TitleDistanceRatio float64 `yaml:"title_distance_ratio" json:"title_distance_ratio"`
}

// Config is the top-level engine configuration.
type Config struct {
	// Timezone is the IANA zone every exported payload is anchored to
	// (e.g. "America/Toronto"). Naive local times are never emitted.
	Timezone string `yaml:"timezone" json:"timezone"`

	// CalendarName is the X-WR-CALNAME of exported calendars.
	CalendarName string `yaml:"calendar_name" json:"calendar_name"`

	// ReviewThreshold is the confidence below which an event is flagged
	// for human review.
	ReviewThreshold float64 `yaml:"review_threshold" json:"review_threshold"`

	// AcademicDayStart/End bound the preferred reading of ambiguous clock
	// times (a bare "3:00" resolves inside this window when possible).
	AcademicDayStart int `yaml:"academic_day_start" json:"academic_day_start"`
	AcademicDayEnd   int `yaml:"academic_day_end" json:"academic_day_end"`

	// DefaultDurationMinutes supplies the per-kind duration used when the
	// source text lacks an end time. Zero means deadline semantics
	// (rendered as a short block at the stated time).
	DefaultDurationMinutes map[string]int `yaml:"default_durations" json:"default_durations"`

	// Dedup holds the duplicate-matching thresholds.
	Dedup DedupConfig `yaml:"dedup" json:"dedup"`

	// LogLevel / LogConsole configure the global logger.
	LogLevel   string `yaml:"log_level" json:"log_level"`
	LogConsole bool   `yaml:"log_console" json:"log_console"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone:         "America/Toronto",
		CalendarName:     "Course Calendar",
		ReviewThreshold:  0.6,
		AcademicDayStart: 9,
		AcademicDayEnd:   18,
		DefaultDurationMinutes: map[string]int{
			string(model.KindLecture):     50,
			string(model.KindExam):        120,
			string(model.KindAssignment):  0,
			string(model.KindProject):     0,
			string(model.KindOfficeHours): 60,
			string(model.KindOther):       60,
		},
		Dedup: DedupConfig{
			StartToleranceMinutes: 5,
			TitleDistanceRatio:    0.25,
		},
		LogLevel:   "info",
		LogConsole: false,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.CalendarName == "" {
		c.CalendarName = def.CalendarName
	}
	if c.ReviewThreshold <= 0 || c.ReviewThreshold > 1 {
		c.ReviewThreshold = def.ReviewThreshold
	}
	if c.AcademicDayStart <= 0 || c.AcademicDayStart > 22 {
		c.AcademicDayStart = def.AcademicDayStart
	}
	if c.AcademicDayEnd <= c.AcademicDayStart || c.AcademicDayEnd > 23 {
		c.AcademicDayEnd = def.AcademicDayEnd
		// A late start can put the default end before it; keep the
		// ordering invariant rather than the default.
		if c.AcademicDayEnd <= c.AcademicDayStart {
			c.AcademicDayEnd = c.AcademicDayStart + 1
		}
	}
	if c.DefaultDurationMinutes == nil {
		c.DefaultDurationMinutes = map[string]int{}
	}
	for kind, minutes := range def.DefaultDurationMinutes {
		if _, ok := c.DefaultDurationMinutes[kind]; !ok {
			c.DefaultDurationMinutes[kind] = minutes
		}
	}
	if c.Dedup.StartToleranceMinutes <= 0 {
		c.Dedup.StartToleranceMinutes = def.Dedup.StartToleranceMinutes
	}
	if c.Dedup.TitleDistanceRatio <= 0 || c.Dedup.TitleDistanceRatio >= 1 {
		c.Dedup.TitleDistanceRatio = def.Dedup.TitleDistanceRatio
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// DurationFor returns the default duration for an event kind. Deadline
// kinds (assignment/project) return 15 minutes so clients render a
// visible block at the due time.
func (c *Config) DurationFor(kind model.EventKind) time.Duration {
	minutes, ok := c.DefaultDurationMinutes[string(kind)]
	if !ok {
		minutes = c.DefaultDurationMinutes[string(model.KindOther)]
	}
	if minutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(minutes) * time.Minute
}

// StartTolerance returns the dedup start-time window as a duration.
func (c *Config) StartTolerance() time.Duration {
	return time.Duration(c.Dedup.StartToleranceMinutes) * time.Minute
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, write a default config with 0600 perms
//     and return the defaults.
//   - Otherwise read, unmarshal and normalize.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path, atomically
// via a temp file + rename, with final 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".coursecal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
