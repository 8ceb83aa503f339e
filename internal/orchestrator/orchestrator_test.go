package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yinguobing/dwarf/internal/broker"
	"github.com/yinguobing/dwarf/internal/model"
	"github.com/yinguobing/dwarf/internal/store"
)

// fakeAck implements broker.Acknowledger for tests.
type fakeAck struct {
	acked  bool
	nacked bool
}

func (f *fakeAck) Ack(multiple bool) error           { f.acked = true; return nil }
func (f *fakeAck) Nack(multiple, requeue bool) error { f.nacked = true; return nil }

func newDelivery(path string) (broker.Delivery, *fakeAck) {
	ack := &fakeAck{}
	return broker.NewDelivery(path, ack), ack
}

// fakeCatalog is an in-memory Cataloger for dedup/compensation tests.
type fakeCatalog struct {
	mu         sync.Mutex
	byHash     map[string]bool
	insertErr  error
	insertedAt []string        // collection names of successful inserts
	inserted   []*model.Record // records of successful inserts
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{byHash: make(map[string]bool)}
}

func (c *fakeCatalog) Exists(_ context.Context, hash, _ string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byHash[hash], nil
}

func (c *fakeCatalog) Insert(_ context.Context, collection string, record *model.Record) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.insertErr != nil {
		return nil, c.insertErr
	}
	c.byHash[record.Hash] = true
	c.insertedAt = append(c.insertedAt, collection)
	c.inserted = append(c.inserted, record)
	return "fake-id", nil
}

// fakePublisher records every published body (most pipeline stages
// don't call it — only the sentinel path).
type fakePublisher struct {
	published []string
}

func (p *fakePublisher) Publish(_ context.Context, body []byte) error {
	p.published = append(p.published, string(body))
	return nil
}

func testCfg(barn string) Config {
	return Config{
		Barn:             barn,
		VideoTypes:       []string{"mp4", "mov"},
		ImageTypes:       []string{"jpg", "png"},
		ImagesCollection: "images",
		VideosCollection: "videos",
		MaxNumTry:        3,
		Timeout:          2 * time.Second,
	}
}

func writeTagFiles(t *testing.T, dir, tags, authors string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tags.txt"), []byte(tags), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "authors.txt"), []byte(authors), 0o644))
}

func TestUnsupportedSuffixProducesNoRecord(t *testing.T) {
	barn := t.TempDir()
	warehouse := t.TempDir()
	src := filepath.Join(barn, "jobA", "notes.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	cat := newFakeCatalog()
	orc := New(testCfg(barn), nil, &fakePublisher{}, store.New(barn, warehouse), cat)

	d, ack := newDelivery(src)
	orc.process(context.Background(), d)

	assert.True(t, ack.acked)
	assert.Empty(t, cat.insertedAt)
	entries, _ := os.ReadDir(warehouse)
	assert.Empty(t, entries)
	// source file is untouched
	_, err := os.Stat(src)
	assert.NoError(t, err)
}

func TestDuplicateLeavesSourceByDefault(t *testing.T) {
	barn := t.TempDir()
	warehouse := t.TempDir()
	src := filepath.Join(barn, "jobA", "photo.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("duplicate-bytes"), 0o644))
	writeTagFiles(t, filepath.Dir(src), "cat dog", "alice")

	st := store.New(barn, warehouse)
	hash, err := st.Checksum(src)
	require.NoError(t, err)

	cat := newFakeCatalog()
	cat.byHash[hash] = true // pretend this content is already cataloged

	orc := New(testCfg(barn), nil, &fakePublisher{}, st, cat)
	d, ack := newDelivery(src)
	orc.process(context.Background(), d)

	assert.True(t, ack.acked)
	_, err = os.Stat(src)
	assert.NoError(t, err, "duplicate source must be left in the barn by default")
}

func TestDuplicateDestroyedWhenConfigured(t *testing.T) {
	barn := t.TempDir()
	warehouse := t.TempDir()
	src := filepath.Join(barn, "jobA", "photo.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("duplicate-bytes"), 0o644))

	st := store.New(barn, warehouse)
	hash, err := st.Checksum(src)
	require.NoError(t, err)

	cat := newFakeCatalog()
	cat.byHash[hash] = true

	cfg := testCfg(barn)
	cfg.DestroyOnDuplicate = true
	orc := New(cfg, nil, &fakePublisher{}, st, cat)
	d, ack := newDelivery(src)
	orc.process(context.Background(), d)

	assert.True(t, ack.acked)
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestCatalogFailureCompensatesWarehouseDelete(t *testing.T) {
	barn := t.TempDir()
	warehouse := t.TempDir()
	src := filepath.Join(barn, "jobB", "clip.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	// a valid 1x1 GIF so the image prober succeeds
	require.NoError(t, os.WriteFile(src, validGIF(), 0o644))
	writeTagFiles(t, filepath.Dir(src), "a b", "bob")

	cat := newFakeCatalog()
	cat.insertErr = assert.AnError

	orc := New(testCfg(barn), nil, &fakePublisher{}, store.New(barn, warehouse), cat)
	d, ack := newDelivery(src)
	orc.process(context.Background(), d)

	assert.True(t, ack.acked)

	// No warehouse file should remain for this hash.
	shardDirs, _ := os.ReadDir(filepath.Join(warehouse, "originals"))
	for _, shard := range shardDirs {
		files, _ := os.ReadDir(filepath.Join(warehouse, "originals", shard.Name()))
		assert.Empty(t, files, "compensating delete must remove the warehouse file")
	}
}

func TestTagFallbackOptionalOverridesMandatory(t *testing.T) {
	barn := t.TempDir()
	warehouse := t.TempDir()
	jobDir := filepath.Join(barn, "jobA")
	subDir := filepath.Join(jobDir, "sub")
	src := filepath.Join(subDir, "photo.jpg")
	require.NoError(t, os.MkdirAll(subDir, 0o755))
	require.NoError(t, os.WriteFile(src, validGIF(), 0o644))

	writeTagFiles(t, jobDir, "mandatory-tag", "mandatory-author")
	writeTagFiles(t, subDir, "optional-tag", "optional-author")

	cat := newFakeCatalog()
	orc := New(testCfg(barn), nil, &fakePublisher{}, store.New(barn, warehouse), cat)

	d, ack := newDelivery(src)
	orc.process(context.Background(), d)

	assert.True(t, ack.acked)
	require.Len(t, cat.insertedAt, 1, "the optional tag pair should let the record be inserted")
	assert.Equal(t, []string{"optional-tag"}, cat.inserted[0].ManualTags)
	assert.Equal(t, []string{"optional-author"}, cat.inserted[0].Authors)
}

func TestTagMissingMandatoryAbortsRecord(t *testing.T) {
	barn := t.TempDir()
	warehouse := t.TempDir()
	src := filepath.Join(barn, "jobA", "photo.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, validGIF(), 0o644))
	// no tags.txt/authors.txt anywhere

	cat := newFakeCatalog()
	orc := New(testCfg(barn), nil, &fakePublisher{}, store.New(barn, warehouse), cat)

	d, ack := newDelivery(src)
	orc.process(context.Background(), d)

	assert.True(t, ack.acked)
	assert.Empty(t, cat.insertedAt)
}

func TestSentinelTriggersInventorySweep(t *testing.T) {
	barn := t.TempDir()
	warehouse := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(barn, "jobA"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(barn, "jobA", "a.jpg"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(barn, "jobA", "b.jpg"), []byte("b"), 0o644))

	sentinel := filepath.Join(barn, "jobA", "dwarf.run")
	require.NoError(t, os.WriteFile(sentinel, []byte{}, 0o644))

	pub := &fakePublisher{}
	cat := newFakeCatalog()
	orc := New(testCfg(barn), nil, pub, store.New(barn, warehouse), cat)

	d, ack := newDelivery(sentinel)
	orc.process(context.Background(), d)

	assert.True(t, ack.acked)
	_, err := os.Stat(sentinel)
	assert.True(t, os.IsNotExist(err), "sentinel file must be deleted")
	assert.Len(t, pub.published, 2, "inventory sweep must republish remaining files")
}

// validGIF returns the bytes of the smallest possible valid GIF image
// (a 1x1 transparent pixel), so the image prober in tests succeeds
// without needing a real photo.
func validGIF() []byte {
	return []byte{
		0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
		0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x2c,
		0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
		0x01, 0x4c, 0x00, 0x3b,
	}
}
