// Package watch ingests files dropped into an inbox directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/txingest/internal/artifact"
	"github.com/dvloznov/txingest/internal/parser"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Submitter queues an ingestion job for a stored artifact.
type Submitter interface {
	Submit(ctx context.Context, artifactRef, sourceName string) (string, error)
}

// adopter is implemented by stores that can take over a file in place.
type adopter interface {
	Adopt(path string) (string, error)
}

// Watcher moves settled inbox files into the artifact store and submits them.
type Watcher struct {
	dir       string
	artifacts artifact.Store
	submitter Submitter
	log       zerolog.Logger

	// Settle is how long a file must stay quiet before it is picked up.
	Settle time.Duration
	// Tick is how often pending files are checked.
	Tick time.Duration
}

// New creates a watcher for dir.
func New(dir string, artifacts artifact.Store, submitter Submitter, log zerolog.Logger) *Watcher {
	return &Watcher{
		dir:       dir,
		artifacts: artifacts,
		submitter: submitter,
		log:       log.With().Str("component", "watch").Str("inbox", dir).Logger(),
		Settle:    300 * time.Millisecond,
		Tick:      250 * time.Millisecond,
	}
}

// Run watches the inbox until ctx is done. Files already present when Run
// starts are ingested first.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return fmt.Errorf("Run: creating inbox: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("Run: creating watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("Run: watching %s: %w", w.dir, err)
	}

	for _, name := range w.existing() {
		w.ingest(ctx, filepath.Join(w.dir, name))
	}
	w.log.Info().Msg("watching inbox")

	pending := map[string]time.Time{}
	ticker := time.NewTicker(w.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !Eligible(filepath.Base(ev.Name)) {
				continue
			}
			pending[ev.Name] = time.Now()
		case <-ticker.C:
			now := time.Now()
			for path, seen := range pending {
				if now.Sub(seen) >= w.Settle {
					delete(pending, path)
					w.ingest(ctx, path)
				}
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

// Eligible reports whether an inbox file name should be ingested. Hidden
// files are skipped so that writers can upload under a dot name and rename.
func Eligible(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	_, err := parser.FormatFromName(name)
	return err == nil
}

func (w *Watcher) existing() []string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn().Err(err).Msg("listing inbox")
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !Eligible(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	name := filepath.Base(path)
	log := w.log.With().Str("source_file", name).Logger()

	if _, err := os.Stat(path); err != nil {
		// Renamed or removed before it settled.
		return
	}

	ref, err := w.store(ctx, path)
	if err != nil {
		log.Error().Err(err).Msg("failed to store inbox file")
		return
	}

	jobID, err := w.submitter.Submit(ctx, ref, name)
	if err != nil {
		log.Error().Err(err).Msg("failed to submit inbox file")
		return
	}
	log.Info().Str("job_id", jobID).Msg("inbox file submitted")
}

func (w *Watcher) store(ctx context.Context, path string) (string, error) {
	if a, ok := w.artifacts.(adopter); ok {
		return a.Adopt(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	ref, err := w.artifacts.Save(ctx, filepath.Base(path), f)
	f.Close()
	if err != nil {
		return "", err
	}
	if err := os.Remove(path); err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("inbox file left behind")
	}
	return ref, nil
}
