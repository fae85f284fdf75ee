package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/history"
)

// AvailableEndpoints is listed by the 404 handler
var AvailableEndpoints = []string{
	"/",
	"/api/health",
	"/api/models",
	"/api/ml/<crop_type>",
	"/api/history",
	"/api/history/stats",
	"/api/test/models",
	"/api/test/config",
}

// TestModels handles GET /api/test/models
func (c *Controller) TestModels(ctx echo.Context) error {
	results := c.service.SelfTest(ctx.Request().Context())
	return ctx.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"results":   results,
		"timestamp": time.Now(),
	})
}

// TestConfig handles GET /api/test/config. Credentials are never included.
func (c *Controller) TestConfig(ctx echo.Context) error {
	s := c.Settings

	type cropView struct {
		Name       string   `json:"name"`
		Candidates []string `json:"candidates"`
		Classes    []string `json:"classes"`
		Target     []int    `json:"target_size"`
	}
	crops := make([]cropView, 0, len(s.Models.Crops))
	for i := range s.Models.Crops {
		crop := &s.Models.Crops[i]
		crops = append(crops, cropView{
			Name:       crop.Name,
			Candidates: crop.Candidates(),
			Classes:    crop.Classes,
			Target:     []int{crop.TargetHeight, crop.TargetWidth},
		})
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"success":            true,
		"api_version":        "v1",
		"version":            c.version(),
		"crops":              crops,
		"allowed_extensions": s.Imaging.AllowedExtensions,
		"max_upload_bytes":   s.WebServer.MaxUploadBytes,
		"model_threads":      s.Models.Threads,
		"use_xnnpack":        s.Models.UseXNNPACK,
		"cache": map[string]any{
			"enabled":     s.Cache.Enabled,
			"ttl_seconds": s.Cache.TTL.Seconds(),
		},
		"rate_limit": s.WebServer.RateLimit,
		"history": map[string]any{
			"enabled": s.History.Enabled,
			"driver":  s.History.Driver,
		},
		"mqtt_enabled":          s.MQTT.Enabled,
		"notifications_enabled": s.Notification.Enabled,
		"metrics_enabled":       s.Metrics.Enabled,
		"sentry_enabled":        s.Sentry.Enabled,
	})
}

func (c *Controller) historyDisabled(ctx echo.Context) error {
	return c.HandleError(ctx, nil, "Prediction history is disabled", http.StatusNotFound)
}

// GetHistory handles GET /api/history?crop=&limit=
func (c *Controller) GetHistory(ctx echo.Context) error {
	if c.history == nil {
		return c.historyDisabled(ctx)
	}

	q := history.Query{Crop: ctx.QueryParam("crop")}
	if raw := ctx.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return c.HandleError(ctx, errors.Newf("invalid limit %q", raw).
				Component("api").
				Category(errors.CategoryValidation).
				Build(), "limit must be a positive integer", http.StatusBadRequest)
		}
		q.Limit = limit
	}

	records, err := c.history.Recent(ctx.Request().Context(), q)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read prediction history", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"success":     true,
		"count":       len(records),
		"diagnoses":   records,
		"crop_filter": q.Crop,
	})
}

// GetHistoryStats handles GET /api/history/stats
func (c *Controller) GetHistoryStats(ctx echo.Context) error {
	if c.history == nil {
		return c.historyDisabled(ctx)
	}

	stats, err := c.history.Stats(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read prediction statistics", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"success": true,
		"stats":   stats,
	})
}

// NotFound answers unknown routes
func (c *Controller) NotFound(ctx echo.Context) error {
	return ctx.JSON(http.StatusNotFound, map[string]any{
		"success":             false,
		"error":               "Endpoint not found",
		"message":             "The requested endpoint does not exist",
		"available_endpoints": AvailableEndpoints,
	})
}
