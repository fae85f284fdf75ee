package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/agrisol/cropdoctor/internal/conf"
	"github.com/agrisol/cropdoctor/internal/imaging"
	"github.com/agrisol/cropdoctor/internal/model"
)

// Health states reported by GetHealth
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// ModelStatus describes one crop in GET /api/models
type ModelStatus struct {
	Loaded      bool            `json:"loaded"`
	DisplayName string          `json:"display_name"`
	Classes     []string        `json:"classes"`
	Endpoint    string          `json:"endpoint"`
	TargetSize  imaging.Size    `json:"target_size"`
	ModelInfo   *model.Metadata `json:"model_info"`
	LoadError   *string         `json:"load_error"`
	Attempts    []model.Attempt `json:"attempts"`
}

// ModelsResponse is the body of GET /api/models
type ModelsResponse struct {
	Models                  map[string]ModelStatus `json:"models"`
	Crops                   []string               `json:"crops"`
	TotalModels             int                    `json:"total_models"`
	LoadedModels            int                    `json:"loaded_models"`
	APIVersion              string                 `json:"api_version"`
	TestingEndpointsEnabled bool                   `json:"testing_endpoints_enabled"`
}

// GetModels handles GET /api/models
func (c *Controller) GetModels(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, NewModelsResponse(c.service.Snapshot(), c.Settings.Testing.Enabled))
}

// NewModelsResponse describes every configured crop of snapshot.
func NewModelsResponse(snapshot *model.Snapshot, testingEnabled bool) *ModelsResponse {
	resp := &ModelsResponse{
		Models:                  make(map[string]ModelStatus),
		Crops:                   snapshot.Crops(),
		TotalModels:             len(snapshot.Crops()),
		LoadedModels:            len(snapshot.Loaded()),
		APIVersion:              conf.APIVersion,
		TestingEndpointsEnabled: testingEnabled,
	}

	for _, st := range snapshot.Statuses() {
		ms := ModelStatus{
			Loaded:      st.Loaded(),
			DisplayName: st.Crop.DisplayName(),
			Classes:     st.Crop.Classes,
			Endpoint:    "/api/ml/" + st.Crop.Name,
			TargetSize:  imaging.Size{Width: st.Crop.TargetWidth, Height: st.Crop.TargetHeight},
			Attempts:    st.Attempts,
		}
		if st.Model != nil {
			meta := st.Model.Metadata
			ms.ModelInfo = &meta
			ms.TargetSize = st.Model.TargetSize()
		}
		if st.Err != nil {
			msg := st.Err.Error()
			ms.LoadError = &msg
		}
		resp.Models[st.Crop.Name] = ms
	}
	return resp
}

// SystemStats is the host snapshot included in health responses
type SystemStats struct {
	CPUPercent    *float64 `json:"cpu_percent,omitempty"`
	MemoryPercent *float64 `json:"memory_used_percent,omitempty"`
}

// HealthResponse is the body of GET /api/health and GET /
type HealthResponse struct {
	Status                  string      `json:"status"`
	Message                 string      `json:"message"`
	ModelsLoaded            []string    `json:"models_loaded"`
	ModelsUnavailable       []string    `json:"models_unavailable"`
	TestingEndpointsEnabled bool        `json:"testing_endpoints_enabled"`
	HistoryEnabled          bool        `json:"history_enabled"`
	Timestamp               time.Time   `json:"timestamp"`
	Version                 string      `json:"version"`
	APIVersion              string      `json:"api_version"`
	UptimeSeconds           float64     `json:"uptime_seconds"`
	System                  SystemStats `json:"system"`
}

// GetHealth handles GET /api/health and GET /
func (c *Controller) GetHealth(ctx echo.Context) error {
	snapshot := c.service.Snapshot()
	loaded := snapshot.Loaded()
	unavailable := snapshot.Unavailable()

	status, message := HealthHealthy, c.Settings.Main.Name+" plant disease detection API is running"
	switch {
	case len(loaded) == 0:
		status, message = HealthUnhealthy, "No crop models are loaded"
	case len(unavailable) > 0:
		status, message = HealthDegraded, "Some crop models failed to load"
	}

	return ctx.JSON(http.StatusOK, HealthResponse{
		Status:                  status,
		Message:                 message,
		ModelsLoaded:            loaded,
		ModelsUnavailable:       unavailable,
		TestingEndpointsEnabled: c.Settings.Testing.Enabled,
		HistoryEnabled:          c.history != nil,
		Timestamp:               time.Now(),
		Version:                 c.version(),
		APIVersion:              conf.APIVersion,
		UptimeSeconds:           time.Since(c.startTime).Seconds(),
		System:                  systemStats(),
	})
}

// systemStats samples host CPU and memory usage; unavailable values are omitted.
func systemStats() SystemStats {
	var stats SystemStats
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = &percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = &vm.UsedPercent
	}
	return stats
}
