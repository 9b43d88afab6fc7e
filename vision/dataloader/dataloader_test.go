package dataloader

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-infer/errtypes"
)

// pathDataset is an in-memory Dataset over explicit paths
type pathDataset struct {
	paths  []string
	labels []int
}

func (d pathDataset) Len() int { return len(d.paths) }

func (d pathDataset) GetItem(i int) (string, int, error) {
	if i < 0 || i >= len(d.paths) {
		return "", 0, fmt.Errorf("index %d out of range", i)
	}
	return d.paths[i], d.labels[i], nil
}

// grayImages writes n solid gray PNGs whose shade encodes their index
func grayImages(t *testing.T, n int) pathDataset {
	t.Helper()
	dir := t.TempDir()
	var d pathDataset
	for i := 0; i < n; i++ {
		img := image.NewGray(image.Rect(0, 0, 4, 4))
		for p := range img.Pix {
			img.Pix[p] = uint8(i * 20)
		}
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		path := filepath.Join(dir, fmt.Sprintf("%d.png", i))
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
		d.paths = append(d.paths, path)
		d.labels = append(d.labels, i)
	}
	return d
}

func drain(t *testing.T, dl *DataLoader) []*Batch {
	t.Helper()
	var batches []*Batch
	for {
		b, err := dl.NextBatch()
		require.NoError(t, err)
		if b == nil {
			return batches
		}
		batches = append(batches, b)
	}
}

func TestBatchesCoverDatasetInOrder(t *testing.T) {
	ds := grayImages(t, 5)
	dl, err := NewDataLoader(ds, Config{BatchSize: 2, InputShape: []int{1, 1, 4, 4}})
	require.NoError(t, err)

	batches := drain(t, dl)
	require.Len(t, batches, 3)
	assert.Equal(t, []int{2, 1, 4, 4}, batches[0].Input.Shape)
	assert.Equal(t, []int{1, 1, 4, 4}, batches[2].Input.Shape)

	var labels []int
	for _, b := range batches {
		labels = append(labels, b.Labels...)
		assert.Len(t, b.Paths, len(b.Labels))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, labels)

	// second image of the first batch is shade 20
	assert.InDelta(t, 20.0/255.0, batches[0].Input.Data[16], 1e-3)

	current, total := dl.Progress()
	assert.Equal(t, 5, current)
	assert.Equal(t, 5, total)
}

func TestFlatInputShape(t *testing.T) {
	dl, err := NewDataLoader(grayImages(t, 3), Config{BatchSize: 8, InputShape: []int{1, 16}})
	require.NoError(t, err)

	b, err := dl.NextBatch()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 16}, b.Input.Shape)
}

func TestShuffleIsSeededPermutation(t *testing.T) {
	ds := grayImages(t, 6)
	order := func(seed int64) []int {
		dl, err := NewDataLoader(ds, Config{BatchSize: 6, Shuffle: true, Seed: seed, InputShape: []int{1, 1, 4, 4}})
		require.NoError(t, err)
		b, err := dl.NextBatch()
		require.NoError(t, err)
		return b.Labels
	}

	first := order(3)
	assert.Equal(t, first, order(3))
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5}, first)
}

func TestResetAndCache(t *testing.T) {
	ds := grayImages(t, 4)
	dl, err := NewDataLoader(ds, Config{BatchSize: 3, InputShape: []int{1, 1, 4, 4}})
	require.NoError(t, err)

	first := drain(t, dl)
	stats := dl.Stats()
	assert.Equal(t, int64(4), stats.Misses)
	assert.Equal(t, int64(0), stats.Hits)

	dl.Reset()
	second := drain(t, dl)
	stats = dl.Stats()
	assert.Equal(t, int64(4), stats.Hits)
	assert.Equal(t, 4, stats.Size)
	assert.True(t, first[0].Input.Equal(second[0].Input))

	dl.ClearCache()
	assert.Equal(t, 0, dl.Stats().Size)
}

func TestUnreadableImagesAreSkipped(t *testing.T) {
	ds := grayImages(t, 2)
	ds.paths = append(ds.paths, filepath.Join(t.TempDir(), "missing.png"))
	ds.labels = append(ds.labels, 9)

	dl, err := NewDataLoader(ds, Config{BatchSize: 2, InputShape: []int{1, 1, 4, 4}})
	require.NoError(t, err)
	batches := drain(t, dl)
	require.Len(t, batches, 2)

	assert.Empty(t, batches[0].Skipped)
	assert.Nil(t, batches[1].Input)
	require.Len(t, batches[1].Skipped, 1)
	assert.True(t, errtypes.Is(batches[1].Skipped[0].Err, errtypes.IO))
}

func TestConfigValidation(t *testing.T) {
	ds := grayImages(t, 1)
	_, err := NewDataLoader(ds, Config{BatchSize: 0, InputShape: []int{1, 1, 4, 4}})
	assert.True(t, errtypes.Is(err, errtypes.Validation))

	_, err = NewDataLoader(ds, Config{BatchSize: 1, InputShape: []int{1, 7}})
	assert.True(t, errtypes.Is(err, errtypes.Config))
}

func TestCacheManagerEvictsLeastRecentlyUsed(t *testing.T) {
	cm := NewCacheManager(2)
	cm.Put("a", []float32{1})
	cm.Put("b", []float32{2})
	_, ok := cm.Get("a")
	require.True(t, ok)

	cm.Put("c", []float32{3})
	_, ok = cm.Get("b")
	assert.False(t, ok, "b was least recently used")
	v, ok := cm.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []float32{1}, v)

	stats := cm.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Contains(t, stats.String(), "Hit Rate: 66.7%")

	disabled := NewCacheManager(-1)
	disabled.Put("a", []float32{1})
	_, ok = disabled.Get("a")
	assert.False(t, ok)
}
