package httptransport

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"
)

// StatsSource reports component statistics for the health endpoint.
type StatsSource interface {
	Stats(ctx context.Context) (map[string]any, error)
}

// HealthData is the data field of GET /api/health.
type HealthData struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Goroutines    int            `json:"goroutines"`
	Memory        *MemoryData    `json:"memory,omitempty"`
	Admission     map[string]any `json:"admission,omitempty"`
}

// MemoryData summarises host and process memory.
type MemoryData struct {
	TotalBytes     uint64  `json:"total_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
	HeapAllocBytes uint64  `json:"heap_alloc_bytes"`
}

// RegisterHealth mounts GET /health on group. admission may be nil.
func RegisterHealth(group *gin.RouterGroup, started time.Time, admission StatsSource) {
	group.GET("/health", func(c *gin.Context) {
		data := HealthData{
			Status:        "ok",
			UptimeSeconds: int64(time.Since(started).Seconds()),
			Goroutines:    runtime.NumGoroutine(),
			Memory:        memoryStats(),
		}
		if admission != nil {
			stats, err := admission.Stats(c.Request.Context())
			if err != nil {
				data.Status = "degraded"
			} else {
				data.Admission = stats
			}
		}
		RespondSuccess(c, http.StatusOK, data, "")
	})
}

func memoryStats() *MemoryData {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	out := &MemoryData{HeapAllocBytes: ms.HeapAlloc}

	if vm, err := mem.VirtualMemory(); err == nil {
		out.TotalBytes = vm.Total
		out.AvailableBytes = vm.Available
		out.UsedPercent = vm.UsedPercent
	}
	return out
}
