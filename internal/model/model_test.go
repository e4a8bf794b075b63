package model

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

// fakeRunner returns fixed logits, or the first values of its input when
// logits is nil, optionally blocking until released.
type fakeRunner struct {
	logits  []float32
	err     error
	block   chan struct{}
	running atomic.Int32
	peak    atomic.Int32
	closed  atomic.Bool
}

func (f *fakeRunner) Run(input []float32) ([]float32, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.logits == nil {
		return append([]float32(nil), input[:3]...), nil
	}
	return append([]float32(nil), f.logits...), nil
}

func (f *fakeRunner) Close() error {
	f.closed.Store(true)
	return nil
}

func zeroInput(meta Metadata) []float32 {
	return make([]float32, meta.InputSize())
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float32{1, 2, 3})
	require.Len(t, probs, 3)

	var sum float64
	for _, p := range probs {
		assert.GreaterOrEqual(t, p, float32(0))
		assert.LessOrEqual(t, p, float32(1))
		sum += float64(p)
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.InDelta(t, 0.6652, probs[2], 1e-3)

	// large logits must not overflow
	big := Softmax([]float32{1000, 1001})
	assert.False(t, math.IsNaN(float64(big[0])))
	assert.InDelta(t, 0.731, big[1], 1e-3)

	assert.Nil(t, Softmax(nil))
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, 2, Argmax([]float32{0.1, 0.2, 0.7}))
	assert.Equal(t, 0, Argmax([]float32{0.5, 0.5, 0.1}), "ties go to the lowest id")
	assert.Equal(t, 0, Argmax(nil))
}

func TestDefaultMetadata(t *testing.T) {
	meta := DefaultMetadata()
	require.NoError(t, meta.Validate())
	assert.Equal(t, 3*224*224, meta.InputSize())
	assert.Equal(t, 3, meta.OutputSize())
	assert.Equal(t, "electrical hazard detected", meta.Label(0))
	assert.Equal(t, "no hazard", meta.Label(1))
	assert.Equal(t, "waterlogging hazard detected", meta.Label(2))
	assert.Empty(t, meta.Label(3))
	assert.Empty(t, meta.Label(-1))
}

func TestLoadMetadata(t *testing.T) {
	t.Run("empty path gives defaults", func(t *testing.T) {
		meta, err := LoadMetadata("")
		require.NoError(t, err)
		assert.Equal(t, DefaultMetadata(), meta)
	})

	t.Run("missing file gives defaults", func(t *testing.T) {
		meta, err := LoadMetadata(filepath.Join(t.TempDir(), "nope.json"))
		require.NoError(t, err)
		assert.Equal(t, DefaultMetadata(), meta)
	})

	t.Run("file overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "meta.json")
		raw := `{"classes":["a","b"],"image_size":32,"input_name":"pixel_values","outputs_probabilities":true}`
		require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

		meta, err := LoadMetadata(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, meta.Classes)
		assert.Equal(t, []int64{1, 3, 32, 32}, meta.InputShape)
		assert.Equal(t, []int64{1, 2}, meta.OutputShape)
		assert.Equal(t, "pixel_values", meta.InputName)
		assert.Equal(t, "output", meta.OutputName)
		assert.Equal(t, DefaultMean, meta.Mean)
		assert.True(t, meta.OutputsProbabilities)
	})

	t.Run("inconsistent shapes rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "meta.json")
		raw := `{"classes":["a","b"],"output_shape":[1,5]}`
		require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

		_, err := LoadMetadata(path)
		assert.ErrorContains(t, err, "does not match 2 classes")
	})

	t.Run("bad json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "meta.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
		_, err := LoadMetadata(path)
		assert.ErrorContains(t, err, "failed to parse metadata")
	})
}

func TestPredict(t *testing.T) {
	meta := DefaultMetadata()
	srv := newServer(meta, &fakeRunner{logits: []float32{0.5, -1, 2.5}}, Options{MaxConcurrent: 2})

	pred, err := srv.Predict(context.Background(), zeroInput(meta))
	require.NoError(t, err)

	assert.Equal(t, 2, pred.ID)
	assert.Equal(t, "waterlogging hazard detected", pred.Label)
	assert.Greater(t, pred.Confidence, 0.5)
	assert.LessOrEqual(t, pred.Confidence, 1.0)
	assert.Len(t, pred.Probabilities, 3)

	detailed := pred.Detailed(meta)
	assert.Len(t, detailed.Predictions, 3)
	assert.InDelta(t, pred.Confidence, detailed.Predictions["waterlogging hazard detected"], 1e-6)
}

func TestPredictProbabilityOutput(t *testing.T) {
	meta := DefaultMetadata()
	meta.OutputsProbabilities = true
	srv := newServer(meta, &fakeRunner{logits: []float32{0.1, 0.8, 0.1}}, Options{})

	pred, err := srv.Predict(context.Background(), zeroInput(meta))
	require.NoError(t, err)
	assert.Equal(t, 1, pred.ID)
	assert.InDelta(t, 0.8, pred.Confidence, 1e-6)
}

func TestPredictErrors(t *testing.T) {
	meta := DefaultMetadata()

	srv := newServer(meta, &fakeRunner{logits: []float32{1, 2, 3}}, Options{})
	_, err := srv.Predict(context.Background(), []float32{1, 2})
	assert.ErrorIs(t, err, ErrInputSize)

	boom := errors.New("ort: bad node")
	srv = newServer(meta, &fakeRunner{err: boom}, Options{})
	_, err = srv.Predict(context.Background(), zeroInput(meta))
	assert.ErrorIs(t, err, boom)

	srv = newServer(meta, &fakeRunner{logits: []float32{1}}, Options{})
	_, err = srv.Predict(context.Background(), zeroInput(meta))
	assert.ErrorContains(t, err, "1 outputs for 3 classes")
}

func TestPredictBoundsConcurrency(t *testing.T) {
	meta := DefaultMetadata()
	fr := &fakeRunner{block: make(chan struct{})}
	srv := newServer(meta, fr, Options{MaxConcurrent: 2})

	const n = 6
	ids := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			input := zeroInput(meta)
			input[i%3] = 5
			pred, err := srv.Predict(context.Background(), input)
			if assert.NoError(t, err) {
				ids[i] = pred.ID
			}
		}(i)
	}

	require.Eventually(t, func() bool { return fr.running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(fr.block)
	wg.Wait()
	assert.Equal(t, int32(2), fr.peak.Load())
	for i, id := range ids {
		assert.Equal(t, i%3, id, "request %d got another request's class", i)
	}
}

func TestPredictSlotTimeout(t *testing.T) {
	meta := DefaultMetadata()
	fr := &fakeRunner{logits: []float32{1, 2, 3}, block: make(chan struct{})}
	srv := newServer(meta, fr, Options{MaxConcurrent: 1, Timeout: 20 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = srv.Predict(context.Background(), zeroInput(meta))
	}()
	require.Eventually(t, func() bool { return fr.running.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, err := srv.Predict(context.Background(), zeroInput(meta))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(fr.block)
	<-done
}

func TestOrtRunnerNeedsEnvironment(t *testing.T) {
	if ort.IsInitialized() {
		t.Skip("onnxruntime environment already initialized")
	}
	r := &ortRunner{inputShape: ort.NewShape(1, 3, 2, 2), outputShape: ort.NewShape(1, 3)}
	_, err := r.Run(make([]float32, 12))
	assert.ErrorIs(t, err, ort.NotInitializedError)
	assert.ErrorContains(t, err, "failed to create input tensor")
}

func TestNewServerMissingModel(t *testing.T) {
	_, err := NewServer(filepath.Join(t.TempDir(), "missing.onnx"), Options{})
	assert.Error(t, err)
}

func TestCloseClosesRunner(t *testing.T) {
	fr := &fakeRunner{}
	newServer(DefaultMetadata(), fr, Options{}).Close()
	assert.True(t, fr.closed.Load())
}

func TestPreprocessUniformImage(t *testing.T) {
	meta := DefaultMetadata()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 128, A: 255})
		}
	}

	input := Preprocess(img, meta)
	require.Len(t, input, meta.InputSize())

	plane := meta.ImageSize * meta.ImageSize
	wantR := (1 - DefaultMean[0]) / DefaultStd[0]
	wantG := (0 - DefaultMean[1]) / DefaultStd[1]
	wantB := (float32(128)/255 - DefaultMean[2]) / DefaultStd[2]
	for _, i := range []int{0, plane / 2, plane - 1} {
		assert.InDelta(t, wantR, input[i], 2e-2)
		assert.InDelta(t, wantG, input[plane+i], 2e-2)
		assert.InDelta(t, wantB, input[2*plane+i], 2e-2)
	}
}

func TestPreprocessIgnoresAlpha(t *testing.T) {
	meta := DefaultMetadata()
	meta.ImageSize = 4
	meta.InputShape = []int64{1, 3, 4, 4}
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 128})
		}
	}

	input := Preprocess(img, meta)
	assert.InDelta(t, (1-DefaultMean[0])/DefaultStd[0], input[0], 2e-2)
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	_, _, err := DecodeImage(strings.NewReader("definitely not an image"))
	assert.ErrorIs(t, err, ErrNotImage)
}
