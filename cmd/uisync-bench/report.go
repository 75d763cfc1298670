package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/vango-dev/uisync/pkg/session"
)

type benchReport struct {
	Version    string         `json:"version"`
	Run        runInfo        `json:"run"`
	Workload   workloadInfo   `json:"workload"`
	LatencyMS  latencyInfo    `json:"latency_ms"`
	Throughput throughputInfo `json:"throughput"`
	GC         gcInfo         `json:"gc"`
	Protocol   protocolInfo   `json:"protocol"`
	Sessions   sessionInfo    `json:"sessions"`
	Errors     errorInfo      `json:"errors"`
}

type runInfo struct {
	Timestamp string `json:"timestamp"`
	Go        string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUCount  int    `json:"cpu_count"`
}

type workloadInfo struct {
	Profile        string  `json:"profile"`
	Clients        int     `json:"clients"`
	DurationMS     int64   `json:"duration_ms"`
	RPSPerClient   float64 `json:"rps_per_client"`
	Notes          int     `json:"notes"`
	MaxProcs       int     `json:"max_procs"`
	EventTimeoutMS int64   `json:"event_timeout_ms"`
}

type latencyInfo struct {
	Min float64 `json:"min"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type throughputInfo struct {
	RequestsTotal        uint64  `json:"requests_total"`
	RequestsPerSec       float64 `json:"requests_per_sec"`
	RequestsPerSecClient float64 `json:"requests_per_sec_per_client"`
}

type gcInfo struct {
	AllocMB      float64 `json:"alloc_mb"`
	HeapLiveMB   float64 `json:"heap_live_mb"`
	NumGC        uint32  `json:"num_gc"`
	PauseTotalMS float64 `json:"pause_total_ms"`
}

type protocolInfo struct {
	RequestBytesTotal  uint64  `json:"request_bytes_total"`
	ResponseBytesTotal uint64  `json:"response_bytes_total"`
	EventsTotal        uint64  `json:"events_total"`
	AdaptersDescribed  uint64  `json:"adapters_described"`
	AvgResponseBytes   float64 `json:"avg_response_bytes"`
	EventsPerRequest   float64 `json:"events_per_request"`
}

type sessionInfo struct {
	Created  uint64 `json:"created"`
	Disposed uint64 `json:"disposed"`
	Peak     int    `json:"peak"`
}

type errorInfo struct {
	ClientErrors uint64 `json:"client_errors"`
	ErrorReplies uint64 `json:"error_replies"`
	TokenMissing uint64 `json:"token_missing"`
}

func buildReport(
	cfg benchConfig,
	elapsed time.Duration,
	latencies []time.Duration,
	counters *benchCounters,
	stats session.DirectoryStats,
	before, after runtime.MemStats,
) benchReport {
	requests := counters.requests.Load()
	events := counters.events.Load()
	responseBytes := counters.responseBytes.Load()

	perSec := float64(requests) / math.Max(0.001, elapsed.Seconds())

	var latency latencyInfo
	if len(latencies) > 0 {
		latency = latencyInfo{
			Min: ms(latencies[0]),
			P50: ms(percentile(latencies, 0.50)),
			P95: ms(percentile(latencies, 0.95)),
			P99: ms(percentile(latencies, 0.99)),
			Max: ms(latencies[len(latencies)-1]),
		}
	}

	return benchReport{
		Version: "1",
		Run: runInfo{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Go:        runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUCount:  runtime.NumCPU(),
		},
		Workload: workloadInfo{
			Profile:        cfg.Profile,
			Clients:        cfg.Clients,
			DurationMS:     cfg.Duration.Milliseconds(),
			RPSPerClient:   cfg.RPS,
			Notes:          cfg.Notes,
			MaxProcs:       cfg.MaxProcs,
			EventTimeoutMS: cfg.EventTimeout.Milliseconds(),
		},
		LatencyMS: latency,
		Throughput: throughputInfo{
			RequestsTotal:        requests,
			RequestsPerSec:       perSec,
			RequestsPerSecClient: perSec / float64(cfg.Clients),
		},
		GC: gcInfo{
			AllocMB:      float64(after.TotalAlloc-before.TotalAlloc) / (1024 * 1024),
			HeapLiveMB:   float64(after.HeapAlloc) / (1024 * 1024),
			NumGC:        after.NumGC - before.NumGC,
			PauseTotalMS: ms(time.Duration(after.PauseTotalNs - before.PauseTotalNs)),
		},
		Protocol: protocolInfo{
			RequestBytesTotal:  counters.requestBytes.Load(),
			ResponseBytesTotal: responseBytes,
			EventsTotal:        events,
			AdaptersDescribed:  counters.adapters.Load(),
			AvgResponseBytes:   ratio(responseBytes, requests),
			EventsPerRequest:   ratio(events, requests),
		},
		Sessions: sessionInfo{
			Created:  stats.TotalCreated,
			Disposed: stats.TotalDisposed,
			Peak:     stats.Peak,
		},
		Errors: errorInfo{
			ClientErrors: counters.clientErrors.Load(),
			ErrorReplies: counters.errorReplies.Load(),
			TokenMissing: counters.tokenMissing.Load(),
		},
	}
}

// percentile returns the nearest-rank percentile of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}

func ratio(n, d uint64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func writeSummary(w io.Writer, r benchReport) {
	fmt.Fprintf(w, "uisync-bench %s: %d clients for %s\n",
		r.Workload.Profile, r.Workload.Clients, time.Duration(r.Workload.DurationMS)*time.Millisecond)
	fmt.Fprintf(w, "  requests:  %d (%.1f/s, %.2f/s per client)\n",
		r.Throughput.RequestsTotal, r.Throughput.RequestsPerSec, r.Throughput.RequestsPerSecClient)
	fmt.Fprintf(w, "  latency:   p50 %.2fms  p95 %.2fms  p99 %.2fms  max %.2fms\n",
		r.LatencyMS.P50, r.LatencyMS.P95, r.LatencyMS.P99, r.LatencyMS.Max)
	fmt.Fprintf(w, "  protocol:  %.1f events/request, %.0f bytes/response, %d adapters described\n",
		r.Protocol.EventsPerRequest, r.Protocol.AvgResponseBytes, r.Protocol.AdaptersDescribed)
	fmt.Fprintf(w, "  sessions:  %d created, %d disposed, peak %d\n",
		r.Sessions.Created, r.Sessions.Disposed, r.Sessions.Peak)
	fmt.Fprintf(w, "  gc:        %.1fMB allocated, %d cycles, %.2fms paused\n",
		r.GC.AllocMB, r.GC.NumGC, r.GC.PauseTotalMS)
	if e := r.Errors; e.ClientErrors+e.ErrorReplies+e.TokenMissing > 0 {
		fmt.Fprintf(w, "  errors:    %d clients failed, %d error replies, %d missing tokens\n",
			e.ClientErrors, e.ErrorReplies, e.TokenMissing)
	}
}

func writeJSON(path string, r benchReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
