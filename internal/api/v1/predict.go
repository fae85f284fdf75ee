package v1

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/agrisol/cropdoctor/internal/diagnosis"
	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/imaging"
	"github.com/agrisol/cropdoctor/internal/logger"
)

// ImageField is the multipart field carrying the uploaded image
const ImageField = "image"

// PredictDisease handles POST /api/ml/:cropType
func (c *Controller) PredictDisease(ctx echo.Context) error {
	crop := ctx.Param("cropType")
	snapshot := c.service.Snapshot()

	status, ok := snapshot.Status(crop)
	if !ok {
		resp := NewErrorResponse(nil,
			fmt.Sprintf("Unsupported crop type: %s. Supported types: %s", crop, strings.Join(snapshot.Crops(), ", ")),
			http.StatusBadRequest)
		resp.SupportedCrops = snapshot.Crops()
		return c.writeError(ctx, resp, errors.Newf("unsupported crop type %s", crop).
			Component("api").
			Category(errors.CategoryNotFound).
			Build())
	}
	if !status.Loaded() {
		err := status.Err
		return c.HandleError(ctx, err,
			fmt.Sprintf("Model not available for %s. Available models: [%s]. Load error: %s",
				crop, strings.Join(snapshot.Loaded(), ", "), err.Error()),
			http.StatusInternalServerError)
	}

	filename, data, err := c.readImage(ctx)
	if err != nil {
		return c.HandleError(ctx, err, uploadMessage(err), StatusFor(err))
	}

	// cached results must not bypass the upload policy
	if err := c.service.ValidateUpload(filename, int64(len(data))); err != nil {
		return c.HandleError(ctx, err, uploadMessage(err), StatusFor(err))
	}

	key := cacheKey(crop, data)
	if cached := c.cachedResult(key); cached != nil {
		GetLogger().WithContext(ctx.Request().Context()).Debug("serving cached prediction",
			logger.String("crop", crop),
			logger.String("prediction_id", cached.PredictionID))
		return ctx.JSON(http.StatusOK, cached.WithCached())
	}

	result, err := c.service.Diagnose(ctx.Request().Context(), crop, filename, data)
	if err != nil {
		code := StatusFor(err)
		message := "Internal server error during prediction"
		if code == http.StatusBadRequest {
			message = uploadMessage(err)
		}
		return c.HandleError(ctx, err, message, code)
	}

	if c.results != nil {
		c.results.SetDefault(key, result)
	}
	return ctx.JSON(http.StatusOK, result)
}

// readImage extracts the image field. It reads at most one byte past the upload
// limit so oversized parts are rejected by the upload policy without buffering them.
func (c *Controller) readImage(ctx echo.Context) (string, []byte, error) {
	fh, err := ctx.FormFile(ImageField)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
			return "", nil, errors.New(imaging.ErrFileTooLarge).
				Component("api").
				Category(errors.CategoryLimit).
				Build()
		}
		return "", nil, errors.New(ErrNoImage).
			Component("api").
			Category(errors.CategoryValidation).
			Context("cause", err.Error()).
			Build()
	}

	if strings.TrimSpace(fh.Filename) == "" {
		return "", nil, errors.New(imaging.ErrMissingFilename).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}

	f, err := fh.Open()
	if err != nil {
		return "", nil, errors.New(fmt.Errorf("open upload: %w", err)).
			Component("api").
			Category(errors.CategoryFileIO).
			Build()
	}
	defer func() { _ = f.Close() }()

	r := io.Reader(f)
	if limit := c.Settings.WebServer.MaxUploadBytes; limit > 0 {
		r = io.LimitReader(f, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", nil, errors.New(fmt.Errorf("read upload: %w", err)).
			Component("api").
			Category(errors.CategoryFileIO).
			Build()
	}
	return fh.Filename, data, nil
}

// ErrNoImage is returned when the request has no image field
var ErrNoImage = errors.NewStd("No image file provided")

// uploadMessage turns a client input error into the short human readable reason.
func uploadMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoImage):
		return "No image file provided"
	case errors.Is(err, imaging.ErrMissingFilename):
		return "No file selected"
	case errors.Is(err, imaging.ErrEmptyImage):
		return "Empty image file"
	case errors.Is(err, imaging.ErrFileTooLarge):
		return "File too large"
	case errors.Is(err, imaging.ErrUnsupportedExtension):
		return "Unsupported file type"
	case errors.Is(err, imaging.ErrUndecodable):
		return "Failed to process image. Please ensure the image is valid and try again."
	default:
		return "Invalid request"
	}
}

func cacheKey(crop string, data []byte) string {
	sum := sha256.Sum256(data)
	return crop + ":" + hex.EncodeToString(sum[:])
}

func (c *Controller) cachedResult(key string) *diagnosis.Result {
	if c.results == nil {
		return nil
	}
	v, ok := c.results.Get(key)
	if c.metrics != nil {
		c.metrics.Diagnosis.RecordCacheLookup(ok)
	}
	if !ok {
		return nil
	}
	r, _ := v.(*diagnosis.Result)
	return r
}
