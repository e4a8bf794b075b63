package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/sync/semaphore"

	"github.com/Brownie44l1/hazard-services/internal/metrics"
)

// ErrInputSize is returned when a tensor does not match the model input.
var ErrInputSize = errors.New("input size mismatch")

// Predictor is what the HTTP layer needs from a loaded model.
type Predictor interface {
	Metadata() Metadata
	Predict(ctx context.Context, input []float32) (*Prediction, error)
}

// runner performs one forward pass. The ONNX session is the production one.
type runner interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// Options tune NewServer. Zero values are usable.
type Options struct {
	MetadataPath  string
	LibraryPath   string
	MaxConcurrent int64
	// Timeout bounds the wait for an inference slot; the forward pass itself
	// cannot be interrupted.
	Timeout time.Duration
}

// Server owns the loaded model. It is immutable after NewServer and safe for
// concurrent Predict calls; every call allocates its own tensors.
type Server struct {
	meta    Metadata
	runner  runner
	slots   *semaphore.Weighted
	timeout time.Duration
}

func NewServer(modelPath string, opts Options) (*Server, error) {
	meta, err := LoadMetadata(opts.MetadataPath)
	if err != nil {
		return nil, err
	}

	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName}, nil)
	if err != nil {
		_ = ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	r := &ortRunner{
		session:     session,
		inputShape:  ort.NewShape(meta.InputShape...),
		outputShape: ort.NewShape(meta.OutputShape...),
	}
	return newServer(meta, r, opts), nil
}

func newServer(meta Metadata, r runner, opts Options) *Server {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Server{
		meta:    meta,
		runner:  r,
		slots:   semaphore.NewWeighted(opts.MaxConcurrent),
		timeout: opts.Timeout,
	}
}

func (s *Server) Metadata() Metadata {
	return s.meta
}

// Predict runs one forward pass over a preprocessed CHW tensor.
func (s *Server) Predict(ctx context.Context, input []float32) (*Prediction, error) {
	if want := s.meta.InputSize(); len(input) != want {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrInputSize, want, len(input))
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	waitStart := time.Now()
	if err := s.slots.Acquire(ctx, 1); err != nil {
		metrics.InferenceErrors.WithLabelValues("canceled").Inc()
		return nil, fmt.Errorf("waiting for inference slot: %w", err)
	}
	defer s.slots.Release(1)
	metrics.InferenceQueueWait.Observe(time.Since(waitStart).Seconds())

	start := time.Now()
	output, err := s.runner.Run(input)
	metrics.InferenceDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.InferenceErrors.WithLabelValues("runtime").Inc()
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	n := len(s.meta.Classes)
	if len(output) < n {
		metrics.InferenceErrors.WithLabelValues("runtime").Inc()
		return nil, fmt.Errorf("inference failed: %d outputs for %d classes", len(output), n)
	}

	probs := output[:n]
	if !s.meta.OutputsProbabilities {
		probs = Softmax(probs)
	}
	id := Argmax(probs)

	pred := &Prediction{
		ID:            id,
		Label:         s.meta.Label(id),
		Confidence:    clamp01(float64(probs[id])),
		Probabilities: probs,
	}
	metrics.Predictions.WithLabelValues(pred.Label).Inc()
	return pred, nil
}

func (s *Server) Close() {
	if s.runner != nil {
		_ = s.runner.Close()
	}
}

type ortRunner struct {
	session     *ort.DynamicAdvancedSession
	inputShape  ort.Shape
	outputShape ort.Shape
}

func (r *ortRunner) Run(input []float32) ([]float32, error) {
	in, err := ort.NewTensor(r.inputShape, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer in.Destroy()

	out, err := ort.NewEmptyTensor[float32](r.outputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := r.session.Run([]ort.ArbitraryTensor{in}, []ort.ArbitraryTensor{out}); err != nil {
		return nil, err
	}

	return append([]float32(nil), out.GetData()...), nil
}

func (r *ortRunner) Close() error {
	if r.session != nil {
		if err := r.session.Destroy(); err != nil {
			return err
		}
	}
	return ort.DestroyEnvironment()
}
