package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/Brownie44l1/hazard-services/internal/api"
	"github.com/Brownie44l1/hazard-services/internal/config"
	"github.com/Brownie44l1/hazard-services/internal/logging"
	"github.com/Brownie44l1/hazard-services/internal/metrics"
	"github.com/Brownie44l1/hazard-services/internal/model"
	"github.com/Brownie44l1/hazard-services/internal/scratch"
)

// Upload field names: "file" is what mobile clients send, "image" is kept
// for older callers.
var uploadFields = map[string]bool{"file": true, "image": true}

type Handler struct {
	predictor  model.Predictor
	scratchDir string
	maxUpload  int64
}

func NewHandler(predictor model.Predictor, cfg config.ClassifierConfig) *Handler {
	return &Handler{
		predictor:  predictor,
		scratchDir: cfg.ScratchDir,
		maxUpload:  cfg.MaxUploadBytes,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) error {
	meta := h.predictor.Metadata()
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"classes":    meta.Classes,
		"image_size": meta.ImageSize,
	})
	return nil
}

// Predict classifies an already preprocessed tensor sent as JSON.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) error {
	var req model.PredictionRequest
	if err := api.DecodeJSON(w, r, h.maxUpload, &req); err != nil {
		return err
	}

	meta := h.predictor.Metadata()
	if expected := meta.InputSize(); len(req.Image) != expected {
		return api.BadRequest(fmt.Sprintf("expected %d values, got %d", expected, len(req.Image)), nil)
	}

	pred, err := h.predictor.Predict(r.Context(), req.Image)
	if err != nil {
		return predictError(err)
	}

	api.WriteJSON(w, http.StatusOK, pred.Detailed(meta))
	return nil
}

// PredictFromImage classifies a multipart image upload. The upload is staged
// in a scratch file that is removed before returning, whatever the outcome.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	mr, err := r.MultipartReader()
	if err != nil {
		return api.BadRequest("expected a multipart/form-data upload", err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return api.BadRequest("no image file provided, use the 'file' form field", nil)
		}
		if err != nil {
			return uploadError("failed to parse form", err)
		}
		if !uploadFields[part.FormName()] {
			_ = part.Close()
			continue
		}

		pred, err := h.classifyPart(r.Context(), part)
		_ = part.Close()
		if err != nil {
			return err
		}

		api.WriteJSON(w, http.StatusOK, pred)
		return nil
	}
}

func (h *Handler) classifyPart(ctx context.Context, part *multipart.Part) (*model.Prediction, error) {
	log := logging.Ctx(ctx)

	file, err := scratch.Acquire(h.scratchDir, part.FileName())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := file.Release(); err != nil {
			log.Warn().Err(err).Str("path", file.Path()).Msg("failed to release scratch file")
		}
	}()

	size, err := file.Fill(part)
	if err != nil {
		return nil, uploadError("failed to read upload", err)
	}
	if size == 0 {
		return nil, api.BadRequest("uploaded file is empty", nil)
	}

	img, format, err := model.DecodeImage(file)
	if err != nil {
		metrics.InferenceErrors.WithLabelValues("decode").Inc()
		return nil, api.BadRequest("invalid image format, supported: JPEG, PNG, GIF", err)
	}

	log.Debug().
		Str("filename", part.FileName()).
		Int64("bytes", size).
		Str("format", format).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("received image")

	input := model.Preprocess(img, h.predictor.Metadata())
	pred, err := h.predictor.Predict(ctx, input)
	if err != nil {
		return nil, predictError(err)
	}
	return pred, nil
}

// uploadError maps body read failures; oversized bodies become 413.
func uploadError(detail string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return api.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), err)
	}
	return api.BadRequest(detail, err)
}

func predictError(err error) error {
	switch {
	case errors.Is(err, model.ErrInputSize):
		return api.BadRequest(err.Error(), err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return api.NewHTTPError(http.StatusServiceUnavailable, "classifier is busy, retry later", err)
	default:
		return fmt.Errorf("prediction failed: %w", err)
	}
}
