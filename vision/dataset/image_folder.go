// Package dataset enumerates labelled images laid out one directory per
// class.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tsawler/go-infer/errtypes"
)

// DefaultExtensions are the image file extensions scanned when none are given
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

// ImageFolderDataset is a set of images under root/<class>/<file>
type ImageFolderDataset struct {
	root       string
	imagePaths []string
	labels     []int
	classNames []string
}

// NewImageFolderDataset scans root. With classes set, labels are indices into
// classes and a directory that is not one of them is an error; otherwise the
// class list is the sorted directory names. Extensions match case-insensitively.
func NewImageFolderDataset(root string, classes []string, extensions ...string) (*ImageFolderDataset, error) {
	const op = "NewImageFolderDataset"
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errtypes.Errorf(errtypes.IO, op, "failed to list classes: %w", err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			dirs = append(dirs, entry.Name())
		}
	}

	d := &ImageFolderDataset{root: root}
	classToIdx := make(map[string]int)
	if len(classes) > 0 {
		d.classNames = slices.Clone(classes)
		for i, name := range classes {
			classToIdx[name] = i
		}
	} else {
		// ReadDir returns entries sorted by name
		d.classNames = dirs
		for i, name := range dirs {
			classToIdx[name] = i
		}
	}

	for _, dir := range dirs {
		label, ok := classToIdx[dir]
		if !ok {
			return nil, errtypes.Errorf(errtypes.Validation, op, "directory %q is not one of the classes %v", dir, d.classNames)
		}
		files, err := os.ReadDir(filepath.Join(root, dir))
		if err != nil {
			return nil, errtypes.Errorf(errtypes.IO, op, "failed to list %s: %w", dir, err)
		}
		for _, f := range files {
			if f.IsDir() || !hasExtension(f.Name(), extensions) {
				continue
			}
			d.imagePaths = append(d.imagePaths, filepath.Join(root, dir, f.Name()))
			d.labels = append(d.labels, label)
		}
	}

	if len(d.imagePaths) == 0 {
		return nil, errtypes.Errorf(errtypes.Validation, op, "no images found in %s", root)
	}
	return d, nil
}

func hasExtension(name string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// Len returns the number of items in the dataset
func (d *ImageFolderDataset) Len() int {
	return len(d.imagePaths)
}

// GetItem returns the image path and label at the given index
func (d *ImageFolderDataset) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], d.labels[index], nil
}

func (d *ImageFolderDataset) NumClasses() int {
	return len(d.classNames)
}

func (d *ImageFolderDataset) ClassNames() []string {
	return slices.Clone(d.classNames)
}

// ClassDistribution returns the number of samples per class
func (d *ImageFolderDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, label := range d.labels {
		dist[d.classNames[label]]++
	}
	return dist
}

// Subset creates a dataset with the samples at indices
func (d *ImageFolderDataset) Subset(indices []int) (*ImageFolderDataset, error) {
	subset := &ImageFolderDataset{
		root:       d.root,
		imagePaths: make([]string, len(indices)),
		labels:     make([]int, len(indices)),
		classNames: d.classNames,
	}
	for i, idx := range indices {
		path, label, err := d.GetItem(idx)
		if err != nil {
			return nil, err
		}
		subset.imagePaths[i] = path
		subset.labels[i] = label
	}
	return subset, nil
}

func (d *ImageFolderDataset) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ImageFolderDataset %s: %d samples, %d classes\n", d.root, len(d.imagePaths), len(d.classNames))
	sb.WriteString("Class distribution:\n")

	dist := d.ClassDistribution()
	for _, className := range d.classNames {
		if count := dist[className]; count > 0 {
			fmt.Fprintf(&sb, "  %s: %d samples\n", className, count)
		}
	}
	return sb.String()
}
