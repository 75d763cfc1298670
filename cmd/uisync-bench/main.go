// Command uisync-bench measures request round trips of an in-process
// uisync server under concurrent WebSocket clients driving the demo
// desktop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vango-dev/uisync/internal/demo"
	"github.com/vango-dev/uisync/pkg/server"
	"github.com/vango-dev/uisync/pkg/session"
)

type profile struct {
	Name     string
	Clients  int
	Duration time.Duration
	RPS      float64
	Notes    int
	MaxProcs int
}

var profiles = map[string]profile{
	"fast":     {Name: "fast", Clients: 50, Duration: 10 * time.Second, RPS: 2, Notes: 10},
	"standard": {Name: "standard", Clients: 200, Duration: 30 * time.Second, RPS: 5, Notes: 25},
	"stress":   {Name: "stress", Clients: 500, Duration: 60 * time.Second, RPS: 10, Notes: 50, MaxProcs: 4},
}

type benchConfig struct {
	Profile      string
	Clients      int
	Duration     time.Duration
	RPS          float64
	Notes        int
	MaxProcs     int
	JSONOutput   string
	EventTimeout time.Duration
}

func main() {
	log.SetFlags(0)

	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}

	report, err := run(context.Background(), cfg)
	if err != nil {
		log.Fatal(err)
	}
	writeSummary(os.Stderr, report)
	if err := writeJSON(cfg.JSONOutput, report); err != nil {
		log.Fatalf("write json: %v", err)
	}
}

func parseConfig(args []string) (benchConfig, error) {
	fs := flag.NewFlagSet("uisync-bench", flag.ContinueOnError)
	profileFlag := fs.String("profile", "standard", "profile: fast|standard|stress")
	clients := fs.Int("clients", -1, "number of concurrent WebSocket clients")
	duration := fs.Duration("duration", 0, "benchmark duration, e.g. 30s")
	rps := fs.Float64("rps", -1, "target requests/sec per client")
	notes := fs.Int("notes", -1, "notes added per session before the list is cleared")
	maxProcs := fs.Int("max-procs", -1, "GOMAXPROCS cap (0 to leave unchanged)")
	jsonOut := fs.String("json", "-", "JSON output path ('-' for stdout)")
	if err := fs.Parse(args); err != nil {
		return benchConfig{}, err
	}

	name := strings.ToLower(strings.TrimSpace(*profileFlag))
	base, ok := profiles[name]
	if !ok {
		return benchConfig{}, fmt.Errorf("unknown profile %q", name)
	}

	cfg := benchConfig{
		Profile:    base.Name,
		Clients:    base.Clients,
		Duration:   base.Duration,
		RPS:        base.RPS,
		Notes:      base.Notes,
		MaxProcs:   base.MaxProcs,
		JSONOutput: strings.TrimSpace(*jsonOut),
	}
	if *clients != -1 {
		cfg.Clients = *clients
	}
	if *duration != 0 {
		cfg.Duration = *duration
	}
	if *rps != -1 {
		cfg.RPS = *rps
	}
	if *notes != -1 {
		cfg.Notes = *notes
	}
	if *maxProcs != -1 {
		cfg.MaxProcs = *maxProcs
	}
	if cfg.JSONOutput == "" {
		cfg.JSONOutput = "-"
	}

	switch {
	case cfg.Clients <= 0:
		return benchConfig{}, errors.New("-clients must be > 0")
	case cfg.Duration <= 0:
		return benchConfig{}, errors.New("-duration must be > 0")
	case cfg.RPS <= 0:
		return benchConfig{}, errors.New("-rps must be > 0")
	case cfg.Notes < 1:
		return benchConfig{}, errors.New("-notes must be >= 1")
	case cfg.MaxProcs < 0:
		return benchConfig{}, errors.New("-max-procs must be >= 0")
	}

	cfg.EventTimeout = eventTimeout(cfg.RPS)
	return cfg, nil
}

// eventTimeout allows ten request periods, at least two seconds.
func eventTimeout(rps float64) time.Duration {
	period := time.Duration(float64(time.Second) / rps)
	return max(10*period, 2*time.Second)
}

// run starts a server on a loopback port, drives it with cfg.Clients
// clients for cfg.Duration and reports what it saw.
func run(ctx context.Context, cfg benchConfig) (benchReport, error) {
	srv := server.New(&server.ServerConfig{
		RootFactory:   demo.Desktop,
		WebSocketPath: "/json/ws",
		Directory:     session.DirectoryConfig{MaxSessions: cfg.Clients},
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return benchReport{}, fmt.Errorf("listen: %w", err)
	}
	serveCtx, stop := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(serveCtx, ln) }()
	defer func() {
		stop()
		<-served
	}()

	wsURL := "ws://" + ln.Addr().String() + "/json/ws"

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var (
		counters  benchCounters
		samplesMu sync.Mutex
		samples   []time.Duration
		wg        sync.WaitGroup
	)
	record := func(rtt time.Duration) {
		samplesMu.Lock()
		samples = append(samples, rtt)
		samplesMu.Unlock()
	}

	var before runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	start := time.Now()
	for i := range cfg.Clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := &benchClient{id: i, cfg: cfg, counters: &counters, record: record}
			if err := c.run(runCtx, wsURL); err != nil {
				counters.clientErrors.Add(1)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	var after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&after)

	slices.Sort(samples)
	stats := srv.Directory().Stats()
	return buildReport(cfg, elapsed, samples, &counters, stats, before, after), nil
}
