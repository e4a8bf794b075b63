package gateway

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Brownie44l1/hazard-services/internal/api"
	"github.com/Brownie44l1/hazard-services/internal/mlclient"
)

var uploadFields = map[string]bool{"file": true, "image": true}

func (g *Gateway) mlIndex(w http.ResponseWriter, _ *http.Request) error {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"models":         mlModels,
		"classifier_url": g.classifier.BaseURL(),
		"endpoints": map[string]string{
			"hazard_classification": "/ml/hazard/classify",
		},
	})
	return nil
}

// classify streams the first "file" or "image" part of the upload to the
// classifier and records the resulting label.
func (g *Gateway) classify(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, g.cfg.Classifier.MaxUploadBytes)

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

		pred, err := g.classifier.Classify(r.Context(), part.FileName(), part)
		_ = part.Close()
		if err != nil {
			return upstreamError(err)
		}

		g.tally.Record(pred.Label)
		api.WriteJSON(w, http.StatusOK, pred)
		return nil
	}
}

// uploadError maps failures reading the caller's body; oversized bodies
// become 413, anything else 400.
func uploadError(detail string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return api.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), err)
	}
	return api.BadRequest(detail, err)
}

func upstreamError(err error) error {
	var status *mlclient.StatusError
	switch {
	case errors.Is(err, mlclient.ErrUpload):
		return uploadError("failed to read upload", err)
	case errors.As(err, &status) && status.ClientError():
		return api.NewHTTPError(status.Code, status.Detail, err)
	case errors.Is(err, mlclient.ErrUnavailable):
		return api.NewHTTPError(http.StatusServiceUnavailable, "classifier unavailable, retry later", err)
	case errors.As(err, &status):
		return api.NewHTTPError(http.StatusBadGateway, "classifier failed", err)
	default:
		return api.NewHTTPError(http.StatusBadGateway, "classifier unreachable", err)
	}
}
