package service

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/aethex/platform/internal/httputil"
)

// =============================================================================
// Standard Response Types
// =============================================================================

// HealthResponse is the standard response for /health endpoint.
type HealthResponse struct {
	Status    string         `json:"status"`
	Service   string         `json:"service"`
	Version   string         `json:"version"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// InfoResponse is the standard response for /info endpoint.
type InfoResponse struct {
	Status     string         `json:"status"`
	Service    string         `json:"service"`
	Version    string         `json:"version"`
	Timestamp  string         `json:"timestamp"`
	Uptime     string         `json:"uptime"`
	System     *SystemStats   `json:"system,omitempty"`
	Statistics map[string]any `json:"statistics,omitempty"`
}

// SystemStats describes the host and the gateway process.
type SystemStats struct {
	HostMemoryTotal   uint64  `json:"host_memory_total_bytes"`
	HostMemoryUsed    uint64  `json:"host_memory_used_bytes"`
	HostMemoryPercent float64 `json:"host_memory_used_percent"`
	ProcessRSS        uint64  `json:"process_rss_bytes,omitempty"`
	ProcessCPUPercent float64 `json:"process_cpu_percent,omitempty"`
	Goroutines        int     `json:"goroutines"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
}

// CollectSystemStats reads host memory and process usage. Probes that fail
// leave their fields zero.
func CollectSystemStats(ctx context.Context, uptime time.Duration) *SystemStats {
	stats := &SystemStats{
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(uptime.Seconds()),
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.HostMemoryTotal = vm.Total
		stats.HostMemoryUsed = vm.Used
		stats.HostMemoryPercent = vm.UsedPercent
	}
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			stats.ProcessRSS = info.RSS
		}
		if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
			stats.ProcessCPUPercent = cpu
		}
	}
	return stats
}

// =============================================================================
// Standard Handlers
// =============================================================================

// HealthHandler returns a standardized /health handler for BaseService.
// Unhealthy services answer 503.
func HealthHandler(s *BaseService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := s.HealthStatus(r.Context())

		resp := HealthResponse{
			Status:    status,
			Service:   s.Name(),
			Version:   s.Version(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Details:   s.HealthDetails(),
		}
		code := http.StatusOK
		if status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, resp)
	}
}

// InfoHandler returns a standardized /info handler for BaseService.
// It includes statistics from the registered stats function if available.
func InfoHandler(s *BaseService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := InfoResponse{
			Status:    "active",
			Service:   s.Name(),
			Version:   s.Version(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    s.Uptime().String(),
			System:    CollectSystemStats(r.Context(), s.Uptime()),
		}

		if s.statsFn != nil {
			resp.Statistics = s.statsFn()
		}

		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

// =============================================================================
// Route Registration
// =============================================================================

// RegisterStandardRoutes registers the standard /health and /info endpoints.
func (b *BaseService) RegisterStandardRoutes(router *mux.Router) {
	router.HandleFunc("/health", HealthHandler(b)).Methods(http.MethodGet)
	router.HandleFunc("/info", InfoHandler(b)).Methods(http.MethodGet)
}
