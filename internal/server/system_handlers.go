package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// databaseHealth is the per-database slice of the health report.
type databaseHealth struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// systemHealth is the full health report.
type systemHealth struct {
	Status       string           `json:"status"`
	CPUPercent   float64          `json:"cpu_percent"`
	MemPercent   float64          `json:"mem_percent"`
	DiskPercent  float64          `json:"disk_percent"`
	DiskFreeMB   float64          `json:"disk_free_mb"`
	Databases    []databaseHealth `json:"databases"`
	BreakerState string           `json:"breaker_state"`
}

// handleSystemHealth reports process and host metrics plus a quick check of
// every database.
// GET /api/system/health
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	report := systemHealth{
		Status:       "ok",
		BreakerState: string(s.breaker.Snapshot().State),
	}

	// Short sampling interval keeps the endpoint fast; the reading is still
	// a real measurement, not a cached one.
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		report.CPUPercent = cpuPercent[0]
	} else if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read CPU usage")
	}

	if memStat, err := mem.VirtualMemory(); err == nil {
		report.MemPercent = memStat.UsedPercent
	} else {
		s.log.Warn().Err(err).Msg("Failed to read memory usage")
	}

	if diskStat, err := disk.Usage(s.dataDir); err == nil {
		report.DiskPercent = diskStat.UsedPercent
		report.DiskFreeMB = float64(diskStat.Free) / 1024 / 1024
	} else {
		s.log.Warn().Err(err).Msg("Failed to read disk usage")
	}

	for _, db := range s.databases {
		dh := databaseHealth{Name: db.Name(), Status: "ok"}
		if err := db.QuickCheck(r.Context()); err != nil {
			dh.Status = "error"
			dh.Error = err.Error()
			report.Status = "degraded"
		}
		report.Databases = append(report.Databases, dh)
	}

	s.writeJSON(w, report)
}
