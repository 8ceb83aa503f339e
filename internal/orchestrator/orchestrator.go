// Package orchestrator drives the per-file ingestion pipeline: the core
// state machine that turns a FileEvent into a warehouse artifact and a
// catalog record, or discards the event for one of the documented
// reasons (unsupported type, checksum failure, catalog lookup failure,
// duplicate, probe failure, copy failure, missing tag files, catalog
// insert failure).
//
// Every stage short-circuits to "ack and log" on failure, except for
// tag-discovery and catalog-insert failure (which additionally
// compensate by deleting the warehouse file just created) and destroy
// failure (which is logged but never fatal — the record and warehouse
// copy are already correct by that point).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yinguobing/dwarf/internal/broker"
	"github.com/yinguobing/dwarf/internal/catalog"
	"github.com/yinguobing/dwarf/internal/metrics"
	"github.com/yinguobing/dwarf/internal/model"
	"github.com/yinguobing/dwarf/internal/prober"
	"github.com/yinguobing/dwarf/internal/store"
)

// sentinelName triggers a rescan of the barn when dropped anywhere
// under it, at any nesting depth.
const sentinelName = "dwarf.run"

// Config carries the subset of the YAML document the orchestrator needs.
type Config struct {
	Barn               string
	VideoTypes         []string
	ImageTypes         []string
	ImagesCollection   string
	VideosCollection   string
	MaxNumTry          int
	Timeout            time.Duration
	DestroyOnDuplicate bool
}

// Consumer is the subset of broker.Consumer the orchestrator needs.
type Consumer interface {
	Consume() (<-chan broker.Delivery, error)
}

// Publisher is the subset of broker.Publisher the orchestrator needs —
// used only to re-trigger an inventory sweep on the sentinel file.
type Publisher = store.Publisher

// Cataloger is the subset of catalog.Catalog the orchestrator needs.
// Captured as an interface so tests can exercise dedup and compensating
// delete behavior without a live MongoDB connection.
type Cataloger interface {
	Exists(ctx context.Context, hash, collection string) (bool, error)
	Insert(ctx context.Context, collection string, record *model.Record) (any, error)
}

// Orchestrator ties the broker consumer to the Store and Catalog and
// drives the pipeline for each delivered message.
type Orchestrator struct {
	cfg      Config
	consumer Consumer
	pub      Publisher
	store    *store.Store
	cat      Cataloger
}

// New constructs an Orchestrator. pub is the publisher used for
// re-triggering an inventory sweep on the sentinel file (spec.md §4.5
// stage 1); consumer is the sole message consumer.
func New(cfg Config, consumer Consumer, pub Publisher, st *store.Store, cat Cataloger) *Orchestrator {
	return &Orchestrator{cfg: cfg, consumer: consumer, pub: pub, store: st, cat: cat}
}

// Run consumes deliveries and drives the pipeline until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	deliveries, err := o.consumer.Consume()
	if err != nil {
		return err
	}

	slog.Info("orchestrator started")

	for {
		select {
		case <-ctx.Done():
			slog.Info("orchestrator shutting down")
			return nil

		case d, ok := <-deliveries:
			if !ok {
				slog.Warn("delivery channel closed")
				return nil
			}
			o.process(ctx, d)
		}
	}
}

// process runs the full 10-stage pipeline for a single delivery.
func (o *Orchestrator) process(ctx context.Context, d broker.Delivery) {
	path := d.Path

	// Stage 1 — secret-mission check.
	if filepath.Base(path) == sentinelName {
		o.store.Destroy(path)
		if _, err := o.store.CheckInventory(ctx, o.pub); err != nil {
			slog.Warn("inventory sweep failed", "error", err)
		}
		ackOrLog(d, "sentinel")
		metrics.IngestTotal.WithLabelValues("sentinel").Inc()
		return
	}

	// Stage 2 — precheck: route by suffix.
	routed, parse, ok := o.route(path)
	if !ok {
		slog.Warn("unsupported file type", "path", path)
		ackOrLog(d, "unsupported")
		metrics.IngestTotal.WithLabelValues("unsupported").Inc()
		return
	}
	collection := catalog.NameFor(routed, o.cfg.ImagesCollection, o.cfg.VideosCollection)

	// Stage 3 — checksum.
	timer := time.Now()
	hash, err := o.store.Checksum(path)
	metrics.IngestDuration.WithLabelValues("checksum").Observe(time.Since(timer).Seconds())
	if err != nil {
		slog.Warn("checksum failed", "path", path, "error", err)
		ackOrLog(d, "checksum_failed")
		metrics.IngestTotal.WithLabelValues("checksum_failed").Inc()
		return
	}

	// Stage 4 — dedup check.
	timer = time.Now()
	exists, err := o.cat.Exists(ctx, hash, collection)
	metrics.IngestDuration.WithLabelValues("dedup").Observe(time.Since(timer).Seconds())
	if err != nil {
		slog.Warn("dedup check failed", "path", path, "error", err)
		ackOrLog(d, "catalog_unavailable")
		metrics.IngestTotal.WithLabelValues("catalog_unavailable").Inc()
		return
	}
	if exists {
		slog.Warn("duplicate content, skipping", "path", path, "hash", hash)
		if o.cfg.DestroyOnDuplicate {
			o.store.Destroy(path)
		}
		ackOrLog(d, "duplicate")
		metrics.IngestTotal.WithLabelValues("duplicate").Inc()
		return
	}

	// Stage 5 — format probe with retry.
	timer = time.Now()
	tags, err := prober.WithRetry(path, parse, prober.Budget{
		MaxNumTry: o.cfg.MaxNumTry,
		Timeout:   o.cfg.Timeout,
	})
	metrics.IngestDuration.WithLabelValues("probe").Observe(time.Since(timer).Seconds())
	if err != nil {
		slog.Warn("probe failed", "path", path, "error", err)
		ackOrLog(d, "probe_failed")
		metrics.IngestTotal.WithLabelValues("probe_failed").Inc()
		return
	}

	// Stage 6 — stock (copy to warehouse).
	timer = time.Now()
	artifact, err := o.store.Stock(path)
	metrics.IngestDuration.WithLabelValues("stock").Observe(time.Since(timer).Seconds())
	if err != nil {
		slog.Warn("stock failed", "path", path, "error", err)
		ackOrLog(d, "copy_failed")
		metrics.IngestTotal.WithLabelValues("copy_failed").Inc()
		return
	}

	// Stage 7 — manual tag discovery.
	manualTags, authors, err := o.discoverTags(path)
	if err != nil {
		slog.Warn("tag discovery failed", "path", path, "error", err)
		o.store.Destroy(artifact.Path)
		ackOrLog(d, "tags_missing")
		metrics.IngestTotal.WithLabelValues("tags_missing").Inc()
		return
	}

	// Stage 8 — record assembly and insert.
	record := &model.Record{
		BaseName:   filepath.Base(path),
		Path:       artifact.Path,
		Hash:       artifact.Hash,
		FileSize:   artifact.Size,
		IndexTime:  time.Now().UTC(),
		RawTag:     tags,
		ManualTags: manualTags,
		Authors:    authors,
	}

	timer = time.Now()
	_, err = o.cat.Insert(ctx, collection, record)
	metrics.IngestDuration.WithLabelValues("insert").Observe(time.Since(timer).Seconds())
	if err != nil {
		slog.Error("catalog insert failed, compensating", "path", path, "error", err)
		o.store.Destroy(artifact.Path)
		ackOrLog(d, "catalog_failed")
		metrics.IngestTotal.WithLabelValues("catalog_failed").Inc()
		return
	}

	// Stage 9 — destroy source. Non-fatal: the record and warehouse
	// copy are already correct regardless of whether this succeeds.
	o.store.Destroy(path)

	// Stage 10 — ack.
	ackOrLog(d, "cataloged")
	metrics.IngestTotal.WithLabelValues("cataloged").Inc()
	slog.Info("file cataloged", "path", path, "hash", artifact.Hash, "collection", collection)
}

// route classifies path by suffix into a collection and prober function.
// An unrecognized suffix returns ok=false.
func (o *Orchestrator) route(path string) (model.Collection, prober.Func, bool) {
	suffix := suffixOf(path)

	for _, t := range o.cfg.VideoTypes {
		if suffix == t {
			return model.CollectionVideos, prober.Video, true
		}
	}
	for _, t := range o.cfg.ImageTypes {
		if suffix == t {
			return model.CollectionImages, prober.Image, true
		}
	}
	return "", nil, false
}

func suffixOf(path string) string {
	ext := filepath.Ext(path)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// discoverTags resolves tags.txt and authors.txt for path. It prefers
// the pair living alongside the source file (optional); if either is
// missing there, it falls back to the pair at the barn-relative job
// root (mandatory). If neither location has both files, it fails.
func (o *Orchestrator) discoverTags(path string) ([]string, []string, error) {
	optionalDir := filepath.Dir(path)
	mandatoryDir, err := o.jobRoot(path)
	if err != nil {
		return nil, nil, err
	}

	dir := optionalDir
	if !bothExist(optionalDir) {
		dir = mandatoryDir
	}
	if !bothExist(dir) {
		return nil, nil, fmt.Errorf("orchestrator: tags.txt/authors.txt not found for %q", path)
	}

	tags, err := readTokens(filepath.Join(dir, "tags.txt"))
	if err != nil {
		return nil, nil, err
	}
	authors, err := readTokens(filepath.Join(dir, "authors.txt"))
	if err != nil {
		return nil, nil, err
	}
	return tags, authors, nil
}

// jobRoot returns the first path component of path relative to the barn
// — the top-level subdirectory a "job" lives in.
func (o *Orchestrator) jobRoot(path string) (string, error) {
	rel, err := filepath.Rel(o.cfg.Barn, path)
	if err != nil {
		return "", err
	}
	parts := strings.SplitN(rel, string(filepath.Separator), 2)
	if len(parts) < 2 {
		// The file lives directly in the barn root — there is no
		// top-level job subdirectory, so the barn itself is the root.
		return o.cfg.Barn, nil
	}
	return filepath.Join(o.cfg.Barn, parts[0]), nil
}

func bothExist(dir string) bool {
	return fileExists(filepath.Join(dir, "tags.txt")) && fileExists(filepath.Join(dir, "authors.txt"))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// readTokens reads the first line of path and splits it on single spaces,
// preserving order. Unlike strings.Fields, this does not collapse runs
// of spaces — a double space yields an empty token, matching the
// original tokenizer's str.split(' ') semantics rather than Go's
// whitespace-collapsing Fields.
func readTokens(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	line := string(data)
	if idx := strings.IndexByte(line, '\n'); idx != -1 {
		line = line[:idx]
	}
	line = strings.TrimRight(line, "\r")
	return strings.Split(line, " "), nil
}

func ackOrLog(d broker.Delivery, reason string) {
	if err := d.Ack(); err != nil {
		slog.Error("ack failed", "reason", reason, "error", err)
	}
}
