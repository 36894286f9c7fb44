package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"coursecal/internal/config"
	"coursecal/internal/ics"
	"coursecal/internal/log"
	"coursecal/internal/pipeline"
	"coursecal/internal/session"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath  string
	sessionID   string
	outPath     string
	previewDays int
}

func main() {
	flags := parseFlags()
	files := flag.Args()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if err := log.Init(conf.LogLevel, conf.LogConsole); err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("coursecal starting",
		"config_path", flags.configPath,
		"timezone", conf.Timezone,
		"session", flags.sessionID,
		"documents", len(files),
	)

	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: coursecal [flags] candidates.json [more.json ...]")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf, flags, files); err != nil {
		log.Error("run failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, conf *config.Config, flags flagConfig, files []string) error {
	store := session.NewStore(conf.ReviewThreshold)
	engine, err := pipeline.New(conf, store, time.Now())
	if err != nil {
		return err
	}

	docs := make([]pipeline.Document, 0, len(files))
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		cands, err := pipeline.DecodeCandidates(f)
		f.Close()
		if err != nil {
			return err
		}
		docs = append(docs, pipeline.Document{
			ID:         documentID(path),
			Candidates: cands,
		})
	}

	outcomes, err := engine.ProcessDocuments(ctx, flags.sessionID, docs)
	if err != nil {
		return err
	}
	for _, out := range outcomes {
		log.Info("document done",
			"document", out.Document,
			"inserted", out.Inserted,
			"merged", out.Merged,
			"rejected", out.Rejected,
		)
	}

	sess, _ := store.Get(flags.sessionID)
	stats := sess.Stats()
	log.Info("session summary",
		"events", stats.Total,
		"needs_review", stats.NeedsReview,
		"documents", len(stats.Documents),
	)

	if flags.previewDays > 0 {
		if err := printPreview(sess, flags.previewDays); err != nil {
			return err
		}
	}

	export, err := engine.Export(flags.sessionID)
	if err != nil {
		return err
	}

	// Re-parse the payload before handing it out; a payload that cannot
	// survive our own parser will not survive a calendar client either.
	if _, err := ics.Parse(export.Data); err != nil {
		return err
	}

	outPath := flags.outPath
	if outPath == "" {
		outPath = export.Filename
	}
	if err := os.WriteFile(outPath, export.Data, 0o644); err != nil {
		return err
	}
	log.Info("calendar written", "path", outPath, "bytes", len(export.Data))
	return nil
}

// printPreview expands the session's events over the next n days and
// lists the concrete occurrences.
func printPreview(sess *session.Session, days int) error {
	now := time.Now()
	result, err := ics.Expand(sess.Snapshot(), ics.ExpandConfig{
		RangeStart: now,
		RangeEnd:   now.AddDate(0, 0, days),
	})
	if err != nil {
		return err
	}
	for _, occ := range result.Occurrences {
		fmt.Printf("%s  %s - %s  %s\n",
			occ.Start.Format("2006-01-02 15:04"),
			occ.End.Format("15:04"),
			occ.Title,
			occ.Location,
		)
	}
	if len(result.Truncated) > 0 {
		log.Warn("preview truncated some events", "event_ids", strings.Join(result.Truncated, ","))
	}
	return nil
}

func documentID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", defaultConfigPath(), "Path to config file")
	flag.StringVar(&cfg.sessionID, "session", "local", "Session identifier (used in the output file name)")
	flag.StringVar(&cfg.outPath, "out", "", "Output .ics path (default: course_<session>.ics)")
	flag.IntVar(&cfg.previewDays, "preview", 0, "Print expanded occurrences for the next N days")

	flag.Parse()

	return cfg
}

func defaultConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "coursecal", "config.yaml")
	}
	return "coursecal.yaml"
}
