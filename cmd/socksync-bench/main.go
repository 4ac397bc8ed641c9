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
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vango-dev/socksync/pkg/group"
	"github.com/vango-dev/socksync/pkg/server"
)

type profile struct {
	Name         string
	Clients      int
	Duration     time.Duration
	RPS          float64
	ListSize     int
	PageSize     int
	PayloadBytes int
}

var profiles = map[string]profile{
	"fast": {
		Name:         "fast",
		Clients:      50,
		Duration:     10 * time.Second,
		RPS:          2,
		ListSize:     20,
		PageSize:     5,
		PayloadBytes: 24,
	},
	"standard": {
		Name:         "standard",
		Clients:      200,
		Duration:     30 * time.Second,
		RPS:          5,
		ListSize:     50,
		PageSize:     10,
		PayloadBytes: 24,
	},
	"stress": {
		Name:         "stress",
		Clients:      500,
		Duration:     60 * time.Second,
		RPS:          10,
		ListSize:     100,
		PageSize:     10,
		PayloadBytes: 24,
	},
}

type benchConfig struct {
	Profile      string
	Clients      int
	Duration     time.Duration
	RPS          float64
	ListSize     int
	PageSize     int
	PayloadBytes int
	JSONOutput   string
	CallTimeout  time.Duration
}

func main() {
	log.SetFlags(0)

	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	srv, items := newBenchServer(cfg)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	httpServer := &http.Server{Handler: srv.Handler()}
	go func() {
		_ = httpServer.Serve(ln)
	}()
	defer func() {
		_ = srv.Shutdown(context.Background())
		_ = httpServer.Shutdown(context.Background())
	}()

	wsURL := "ws://" + ln.Addr().String() + srv.Config().Path

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	samplesCh := make(chan time.Duration, sampleBuffer(cfg.Clients))
	var samples []time.Duration
	var samplesMu sync.Mutex
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for rtt := range samplesCh {
			samplesMu.Lock()
			samples = append(samples, rtt)
			samplesMu.Unlock()
		}
	}()

	var counters benchCounters
	var errCounts benchErrors
	var funcs funcCounts

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(cfg.Clients)
	for i := 0; i < cfg.Clients; i++ {
		clientID := i
		go func() {
			defer wg.Done()
			if err := runClient(ctx, wsURL, clientID, cfg, &counters, &errCounts, &funcs, samplesCh); err != nil {
				errCounts.totalErrors.Add(1)
			}
		}()
	}

	wg.Wait()
	close(samplesCh)
	<-collectorDone

	elapsed := time.Since(start)

	samplesMu.Lock()
	latencies := append([]time.Duration(nil), samples...)
	samplesMu.Unlock()
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	report := buildReport(cfg, elapsed, latencies, &counters, &errCounts, &funcs)
	report.Server = serverInfo(srv, items)

	writeSummary(os.Stderr, report)
	if err := writeJSON(cfg.JSONOutput, report); err != nil {
		log.Fatalf("write json: %v", err)
	}
}

// newBenchServer builds a server with one list and one local function.
// Every call of "touch" stores its token in a list item, so each call fans
// out as a set to the subscribers whose page covers that item.
func newBenchServer(cfg benchConfig) (*server.Server, *group.List) {
	logger := discardLogger()
	items := group.NewList("items", cfg.PageSize, group.WithLogger(logger))
	seed := make([]group.ListItem, cfg.ListSize)
	for i := range seed {
		seed[i] = group.ListItem{ID: "item-" + strconv.Itoa(i), Value: fmt.Sprintf("Item %d", i)}
	}
	if err := items.SetAll(seed); err != nil {
		log.Fatalf("seed list: %v", err)
	}

	touch := group.NewLocalFunction("touch", func(_ context.Context, args map[string]any) (any, error) {
		token, _ := args["token"].(string)
		if cfg.ListSize > 0 {
			id := "item-" + strconv.Itoa(int(fnv1a32(token)%uint32(cfg.ListSize)))
			if err := items.Set(id, token); err != nil {
				return nil, err
			}
		}
		return token, nil
	}, group.WithLogger(logger))

	reg := group.NewRegistry()
	reg.MustRegister(items, touch)

	sc := server.DefaultServerConfig()
	sc.Address = "127.0.0.1:0"
	sc.CheckOrigin = func(r *http.Request) bool {
		return true
	}
	sc.ConnConfig.MessagesPerSecond = 0
	sc.ConnConfig.SendQueueSize = 4096
	sc.Logger = logger
	return server.New(sc, reg), items
}

func sampleBuffer(clients int) int {
	if clients < 1 {
		return 1024
	}
	buf := clients * 4
	if buf < 1024 {
		buf = 1024
	}
	return buf
}

func parseConfig(args []string) (benchConfig, error) {
	fs := flag.NewFlagSet("socksync-bench", flag.ContinueOnError)
	profileFlag := fs.String("profile", "standard", "profile: fast|standard|stress")
	clientsFlag := fs.Int("clients", -1, "number of concurrent websocket clients")
	durationFlag := fs.String("duration", "", "benchmark duration, e.g. 30s")
	rpsFlag := fs.Float64("rps", -1, "target calls/sec per client")
	listFlag := fs.Int("list", -1, "number of items in the shared list")
	pageFlag := fs.Int("page-size", -1, "list page size; sets outside page 0 are not broadcast")
	payloadFlag := fs.Int("payload-bytes", -1, "bytes of token payload per call")
	jsonFlag := fs.String("json", "-", "JSON output path ('-' for stdout)")
	if err := fs.Parse(args); err != nil {
		return benchConfig{}, err
	}

	name := strings.ToLower(strings.TrimSpace(*profileFlag))
	if name == "" {
		name = "standard"
	}

	base, ok := profiles[name]
	if !ok {
		return benchConfig{}, fmt.Errorf("unknown profile %q", name)
	}

	cfg := benchConfig{
		Profile:      base.Name,
		Clients:      base.Clients,
		Duration:     base.Duration,
		RPS:          base.RPS,
		ListSize:     base.ListSize,
		PageSize:     base.PageSize,
		PayloadBytes: base.PayloadBytes,
		JSONOutput:   strings.TrimSpace(*jsonFlag),
	}

	if *clientsFlag != -1 {
		cfg.Clients = *clientsFlag
	}
	if *durationFlag != "" {
		d, err := time.ParseDuration(*durationFlag)
		if err != nil {
			return benchConfig{}, fmt.Errorf("invalid -duration: %w", err)
		}
		cfg.Duration = d
	}
	if *rpsFlag != -1 {
		cfg.RPS = *rpsFlag
	}
	if *listFlag != -1 {
		cfg.ListSize = *listFlag
	}
	if *pageFlag != -1 {
		cfg.PageSize = *pageFlag
	}
	if *payloadFlag != -1 {
		cfg.PayloadBytes = *payloadFlag
	}
	if cfg.JSONOutput == "" {
		cfg.JSONOutput = "-"
	}

	if cfg.Clients <= 0 {
		return benchConfig{}, errors.New("-clients must be > 0")
	}
	if cfg.Duration <= 0 {
		return benchConfig{}, errors.New("-duration must be > 0")
	}
	if cfg.RPS <= 0 {
		return benchConfig{}, errors.New("-rps must be > 0")
	}
	if cfg.ListSize < 0 {
		return benchConfig{}, errors.New("-list must be >= 0")
	}
	if cfg.PageSize <= 0 {
		return benchConfig{}, errors.New("-page-size must be > 0")
	}
	if cfg.PayloadBytes <= 0 {
		return benchConfig{}, errors.New("-payload-bytes must be > 0")
	}

	cfg.CallTimeout = callTimeout(cfg.RPS)
	return cfg, nil
}

func callTimeout(rps float64) time.Duration {
	if rps <= 0 {
		return 0
	}
	period := time.Duration(float64(time.Second) / rps)
	timeout := period * 10
	if timeout < 2*time.Second {
		timeout = 2 * time.Second
	}
	return timeout
}

func fnv1a32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
