// Package dataloader batches preprocessed images from a Dataset into model
// input tensors.
package dataloader

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-infer/errtypes"
	"github.com/tsawler/go-infer/tensor"
	"github.com/tsawler/go-infer/vision/preprocessing"
)

// DefaultCacheSize is the number of preprocessed images kept when
// Config.MaxCacheSize is zero
const DefaultCacheSize = 1000

// Dataset interface defines the contract for datasets
type Dataset interface {
	Len() int
	GetItem(index int) (imagePath string, label int, err error)
}

type Config struct {
	BatchSize int
	Shuffle   bool
	Seed      int64
	// MaxCacheSize bounds the preprocessed image cache; negative disables it
	MaxCacheSize int
	// InputShape is the model input shape the images are preprocessed for
	InputShape []int
}

// Skipped is an item that could not be loaded
type Skipped struct {
	Path string
	Err  error
}

// Batch is one step of a DataLoader. Input is nil when every item of the
// batch was skipped.
type Batch struct {
	Input   *tensor.Tensor
	Labels  []int
	Paths   []string
	Skipped []Skipped
}

// DataLoader walks a dataset in batches, caching preprocessed images
type DataLoader struct {
	mu        sync.Mutex
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int

	cacheManager *CacheManager
	processor    *preprocessing.ImageProcessor
}

func NewDataLoader(dataset Dataset, config Config) (*DataLoader, error) {
	if config.BatchSize < 1 {
		return nil, errtypes.Errorf(errtypes.Validation, "NewDataLoader", "batch size must be positive, got %d", config.BatchSize)
	}
	processor, err := preprocessing.NewImageProcessor(config.InputShape)
	if err != nil {
		return nil, err
	}
	if config.MaxCacheSize == 0 {
		config.MaxCacheSize = DefaultCacheSize
	}

	dl := &DataLoader{
		dataset:      dataset,
		batchSize:    config.BatchSize,
		shuffle:      config.Shuffle,
		rng:          rand.New(rand.NewSource(config.Seed)),
		indices:      make([]int, dataset.Len()),
		cacheManager: NewCacheManager(config.MaxCacheSize),
		processor:    processor,
	}
	for i := range dl.indices {
		dl.indices[i] = i
	}
	dl.Reset()
	return dl, nil
}

func (dl *DataLoader) shuffleIndices() {
	dl.rng.Shuffle(len(dl.indices), func(i, j int) {
		dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
	})
}

// Reset rewinds the loader, reshuffling when configured to
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	if dl.shuffle {
		dl.shuffleIndices()
	}
}

// NextBatch loads the next batch. It returns nil once the dataset is
// exhausted. Items that fail to load are reported in Batch.Skipped.
func (dl *DataLoader) NextBatch() (*Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	remaining := len(dl.indices) - dl.position
	if remaining <= 0 {
		return nil, nil
	}
	batchSize := min(dl.batchSize, remaining)

	layout := dl.processor.Layout()
	pixelsPerImage := layout.Size()
	data := make([]float32, 0, batchSize*pixelsPerImage)
	batch := &Batch{}

	for i := 0; i < batchSize; i++ {
		idx := dl.indices[dl.position]
		dl.position++

		imagePath, label, err := dl.dataset.GetItem(idx)
		if err != nil {
			batch.Skipped = append(batch.Skipped, Skipped{Path: fmt.Sprintf("#%d", idx), Err: err})
			continue
		}
		imgData, err := dl.loadImageWithCache(imagePath)
		if err != nil {
			batch.Skipped = append(batch.Skipped, Skipped{Path: imagePath, Err: err})
			continue
		}

		data = append(data, imgData...)
		batch.Labels = append(batch.Labels, label)
		batch.Paths = append(batch.Paths, imagePath)
	}

	if n := len(batch.Labels); n > 0 {
		shape := append([]int{n}, layout.Shape()[1:]...)
		input, err := tensor.New(shape, data)
		if err != nil {
			return nil, err
		}
		batch.Input = input
	}
	return batch, nil
}

// loadImageWithCache returns the preprocessed pixels of imagePath. Cached
// slices are shared and must not be modified.
func (dl *DataLoader) loadImageWithCache(imagePath string) ([]float32, error) {
	if cachedData, exists := dl.cacheManager.Get(imagePath); exists {
		return cachedData, nil
	}

	x, err := dl.processor.LoadImage(imagePath)
	if err != nil {
		return nil, err
	}
	dl.cacheManager.Put(imagePath, x.Data)
	return x.Data, nil
}

// Progress returns the current position and the dataset size
func (dl *DataLoader) Progress() (current, total int) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.position, len(dl.indices)
}

func (dl *DataLoader) Stats() CacheStats {
	return dl.cacheManager.Stats()
}

func (dl *DataLoader) ClearCache() {
	dl.cacheManager.Clear()
}
