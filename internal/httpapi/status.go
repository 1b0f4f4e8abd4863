package httpapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

type healthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

type systemStatus struct {
	Uptime        string  `json:"uptime"`
	Goroutines    int     `json:"goroutines"`
	MemUsedMB     uint64  `json:"mem_used_mb"`
	MemTotalMB    uint64  `json:"mem_total_mb"`
	MemPercent    float64 `json:"mem_percent"`
	CPUPercent    float64 `json:"cpu_percent"`
	HostUptimeSec uint64  `json:"host_uptime_sec"`
	Platform      string  `json:"platform"`
}

// handleSystemStatus reports process and host health for operators. Gauges
// that cannot be read are reported as zero rather than failing the endpoint.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := systemStatus{
		Uptime:     time.Since(s.startedAt).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		status.MemUsedMB = vm.Used / 1024 / 1024
		status.MemTotalMB = vm.Total / 1024 / 1024
		status.MemPercent = vm.UsedPercent
	}
	if percents, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(percents) > 0 {
		status.CPUPercent = percents[0]
	}
	if info, err := host.Info(); err == nil {
		status.HostUptimeSec = info.Uptime
		status.Platform = info.Platform
	}

	writeJSON(w, http.StatusOK, status)
}
