package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-infer/errtypes"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// initModel writes the sample model into a fresh directory
func initModel(t *testing.T) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	_, err := run(t, "init", dir, "--seed", "7")
	require.NoError(t, err)
	return dir, []string{
		"--config", filepath.Join(dir, "model.json"),
		"--weights", filepath.Join(dir, "weights.bin"),
		"--seed", "7",
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "model.json (3 layers)")
	assert.Contains(t, out, "101.8K parameters")
	assert.FileExists(t, filepath.Join(dir, "model.json"))
	assert.FileExists(t, filepath.Join(dir, "weights.bin"))

	_, err = run(t, "init", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = run(t, "init", dir, "--force")
	assert.NoError(t, err)

	_, err = run(t, "init", dir, "--format", "yaml", "--force")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "model.yaml"))

	_, err = run(t, "init", dir, "--format", "toml", "--force")
	assert.Error(t, err)
}

func TestInfo(t *testing.T) {
	_, flags := initModel(t)

	out, err := run(t, append([]string{"info"}, flags...)...)
	require.NoError(t, err)
	for _, want := range []string{
		"Model: classification (version 1.0)",
		"Weights: native, bound",
		"Checkpoint: ",
		"fc1", "dropout1", "fc2",
		"[1, 784]", "[1, 10]",
		"Total parameters: 101.8K",
		"Classes: 0, 1, 2",
	} {
		assert.Contains(t, out, want)
	}
}

func TestPredictRandomInput(t *testing.T) {
	_, flags := initModel(t)

	out, err := run(t, append([]string{"predict"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "PROBABILITY")
	assert.Contains(t, out, "random")
}

func TestPredictImage(t *testing.T) {
	dir, flags := initModel(t)

	img := image.NewGray(image.Rect(0, 0, 28, 28))
	for y := 8; y < 20; y++ {
		img.SetGray(14, y, color.Gray{Y: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, "digit.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	out, err := run(t, append([]string{"predict", "--image", path, "-i", path}, flags...)...)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "digit.png"))

	_, err = run(t, append([]string{"predict", "--image", filepath.Join(dir, "missing.png")}, flags...)...)
	assert.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	_, flags := initModel(t)
	root := t.TempDir()
	for _, class := range []string{"3", "8"} {
		dir := filepath.Join(root, class)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for i := 0; i < 2; i++ {
			img := image.NewGray(image.Rect(0, 0, 28, 28))
			img.SetGray(i, 5, color.Gray{Y: 200})
			var buf bytes.Buffer
			require.NoError(t, png.Encode(&buf, img))
			require.NoError(t, os.WriteFile(filepath.Join(dir, string(rune('a'+i))+".png"), buf.Bytes(), 0o644))
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "8", "broken.png"), []byte("nope"), 0o644))

	out, err := run(t, append([]string{"evaluate", root, "-b", "3"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "5 samples, 10 classes")
	assert.Contains(t, out, "8: 3 samples")
	assert.Contains(t, out, "ACCURACY")
	assert.Contains(t, out, "/4)")
	assert.Contains(t, out, "Skipped: 1 images")
	assert.Contains(t, out, "Cache: 4/")

	out, err = run(t, append([]string{"evaluate", root, "--limit", "2", "-q"}, flags...)...)
	require.NoError(t, err)
	assert.NotContains(t, out, "samples, 10 classes")
	assert.Contains(t, out, "(2/2)")
	assert.NotContains(t, out, "Skipped")

	require.NoError(t, os.MkdirAll(filepath.Join(root, "cat"), 0o755))
	_, err = run(t, append([]string{"evaluate", root}, flags...)...)
	require.Error(t, err)
	assert.True(t, errtypes.Is(err, errtypes.Validation))
}

func TestTopK(t *testing.T) {
	_, flags := initModel(t)

	out, err := run(t, append([]string{"topk", "-k", "3"}, flags...)...)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "random"))

	_, err = run(t, append([]string{"topk", "-k", "11"}, flags...)...)
	require.Error(t, err)
	assert.True(t, errtypes.Is(err, errtypes.Validation))
}

func TestBenchmarkCommand(t *testing.T) {
	_, flags := initModel(t)

	out, err := run(t, append([]string{"benchmark", "-n", "3", "--warmup", "2", "-b", "4"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Warmup: 2 runs")
	assert.Contains(t, out, "STD")

	_, err = run(t, append([]string{"benchmark", "-n", "0"}, flags...)...)
	assert.True(t, errtypes.Is(err, errtypes.Validation))
}

func TestMissingModel(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, "predict", "--config", filepath.Join(dir, "model.json"), "--weights", filepath.Join(dir, "weights.bin"))
	require.Error(t, err)
	assert.True(t, errtypes.Is(err, errtypes.IO))
}

func TestExitCodeFollowsErrorKind(t *testing.T) {
	assert.Equal(t, 1, exitCode(os.ErrNotExist))
	assert.Equal(t, 2, exitCode(errtypes.Errorf(errtypes.Config, "build", "bad layer")))
	assert.Equal(t, 3, exitCode(errtypes.Errorf(errtypes.Validation, "Predict", "bad shape")))
	assert.Equal(t, 4, exitCode(errtypes.ErrModelNotLoaded))
	assert.Equal(t, 5, exitCode(errtypes.Errorf(errtypes.IO, "read", "missing")))

	_, flags := initModel(t)
	_, err := run(t, append([]string{"topk", "-k", "11"}, flags...)...)
	assert.Equal(t, 3, exitCode(err))
}

func TestSpread(t *testing.T) {
	assert.Equal(t, []int{0, 2, 4}, spread(6, 3))
	assert.Equal(t, []int{0}, spread(5, 1))
}

func TestFormatParameterCount(t *testing.T) {
	assert.Equal(t, "999", formatParameterCount(999))
	assert.Equal(t, "1.5K", formatParameterCount(1500))
	assert.Equal(t, "2.0M", formatParameterCount(2000000))
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	bar := newProgressBar(&buf, "evaluate", "img", 4)

	bar.Update(2, map[string]float64{"loss": 1, "accuracy": 0.5})
	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "\revaluate:  50%|"))
	assert.Contains(t, line, "| 2/4 [")
	assert.Less(t, strings.Index(line, "accuracy=50.00%"), strings.Index(line, "loss=1.000"))

	bar.Finish()
	assert.Contains(t, buf.String(), "100%")
	assert.True(t, strings.HasSuffix(buf.String(), "]\n"))
	assert.Equal(t, "01:05", formatDuration(65*time.Second))
}
