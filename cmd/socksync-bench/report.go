package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/vango-dev/socksync/pkg/group"
	"github.com/vango-dev/socksync/pkg/protocol"
	"github.com/vango-dev/socksync/pkg/server"
)

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type benchReport struct {
	Version    string         `json:"version"`
	Run        runInfo        `json:"run"`
	Workload   workloadInfo   `json:"workload"`
	LatencyMS  latencyInfo    `json:"latency_ms"`
	Throughput throughputInfo `json:"throughput"`
	Fanout     fanoutInfo     `json:"fanout"`
	Protocol   protocolInfo   `json:"protocol"`
	Server     serverStats    `json:"server"`
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
	Profile       string  `json:"profile"`
	Clients       int     `json:"clients"`
	DurationMS    int64   `json:"duration_ms"`
	RPSPerClient  float64 `json:"rps_per_client"`
	ListSize      int     `json:"list_size"`
	PageSize      int     `json:"page_size"`
	PayloadBytes  int     `json:"payload_bytes"`
	CallTimeoutMS int64   `json:"call_timeout_ms"`
}

type latencyInfo struct {
	Min float64 `json:"min"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type throughputInfo struct {
	CallsTotal        uint64  `json:"calls_total"`
	CallsPerSec       float64 `json:"calls_per_sec"`
	CallsPerSecClient float64 `json:"calls_per_sec_per_client"`
}

// fanoutInfo compares the list sets clients observed with what their page 0
// windows should see: a touched item reaches every client only when it lies
// on the first page.
type fanoutInfo struct {
	SetsReceived    uint64  `json:"sets_received"`
	SetsPerCall     float64 `json:"sets_per_call"`
	ExpectedPerCall float64 `json:"expected_sets_per_call"`
}

type protocolInfo struct {
	SentBytesTotal     uint64            `json:"sent_bytes_total"`
	ReceivedBytesTotal uint64            `json:"received_bytes_total"`
	ReceivedMessages   uint64            `json:"received_messages_total"`
	AvgSentBytes       float64           `json:"avg_sent_bytes_per_call"`
	MessagesPerCall    float64           `json:"messages_per_call"`
	Funcs              map[string]uint64 `json:"funcs"`
}

type serverStats struct {
	PeakConnections int64 `json:"peak_connections"`
	MessagesIn      int64 `json:"messages_in"`
	MessagesOut     int64 `json:"messages_out"`
	BytesOut        int64 `json:"bytes_out"`
	DecodeErrors    int64 `json:"decode_errors"`
	WriteErrors     int64 `json:"write_errors"`
	DispatchPanics  int64 `json:"dispatch_panics"`
	ListItems       int   `json:"list_items"`
	ListSubscribers int   `json:"list_subscribers"`
}

type errorInfo struct {
	TotalErrors     uint64 `json:"total_errors"`
	ConnectFailures uint64 `json:"connect_failures"`
	WriteFailures   uint64 `json:"write_failures"`
	DecodeFailures  uint64 `json:"decode_failures"`
	ServerErrors    uint64 `json:"server_errors"`
	FailedReturns   uint64 `json:"failed_returns"`
	ReturnMissing   uint64 `json:"return_missing"`
}

func serverInfo(srv *server.Server, items *group.List) serverStats {
	m := srv.Metrics()
	return serverStats{
		PeakConnections: m.PeakConnections,
		MessagesIn:      m.MessagesReceived,
		MessagesOut:     m.MessagesSent,
		BytesOut:        m.BytesSent,
		DecodeErrors:    m.DecodeErrors,
		WriteErrors:     m.WriteErrors,
		DispatchPanics:  m.DispatchPanics,
		ListItems:       items.Len(),
		ListSubscribers: items.Subscribers(),
	}
}

// expectedSetsPerCall is the mean number of set deltas one call produces
// across all clients when touched items are spread evenly over the list.
func expectedSetsPerCall(cfg benchConfig) float64 {
	if cfg.ListSize <= 0 {
		return 0
	}
	covered := min(cfg.PageSize, cfg.ListSize)
	return float64(cfg.Clients) * float64(covered) / float64(cfg.ListSize)
}

func buildReport(
	cfg benchConfig,
	elapsed time.Duration,
	latencies []time.Duration,
	counters *benchCounters,
	errs *benchErrors,
	funcs *funcCounts,
) benchReport {
	callsTotal := counters.callsComplete.Load()
	callsSent := counters.callsSent.Load()
	sentBytes := counters.sentBytes.Load()
	recvMessages := counters.recvMessages.Load()
	received := funcs.snapshot()

	callsPerSec := float64(callsTotal) / math.Max(0.001, elapsed.Seconds())

	latency := latencyInfo{}
	if len(latencies) > 0 {
		latency = latencyInfo{
			Min: ms(latencies[0]),
			P50: ms(percentile(latencies, 0.50)),
			P95: ms(percentile(latencies, 0.95)),
			P99: ms(percentile(latencies, 0.99)),
			Max: ms(latencies[len(latencies)-1]),
		}
	}

	perCall := func(n uint64, calls uint64) float64 {
		if calls == 0 {
			return 0
		}
		return float64(n) / float64(calls)
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
			Profile:       cfg.Profile,
			Clients:       cfg.Clients,
			DurationMS:    cfg.Duration.Milliseconds(),
			RPSPerClient:  cfg.RPS,
			ListSize:      cfg.ListSize,
			PageSize:      cfg.PageSize,
			PayloadBytes:  cfg.PayloadBytes,
			CallTimeoutMS: cfg.CallTimeout.Milliseconds(),
		},
		LatencyMS: latency,
		Throughput: throughputInfo{
			CallsTotal:        callsTotal,
			CallsPerSec:       callsPerSec,
			CallsPerSecClient: callsPerSec / float64(cfg.Clients),
		},
		Fanout: fanoutInfo{
			SetsReceived:    received[protocol.FuncSet],
			SetsPerCall:     perCall(received[protocol.FuncSet], callsTotal),
			ExpectedPerCall: expectedSetsPerCall(cfg),
		},
		Protocol: protocolInfo{
			SentBytesTotal:     sentBytes,
			ReceivedBytesTotal: counters.recvBytes.Load(),
			ReceivedMessages:   recvMessages,
			AvgSentBytes:       perCall(sentBytes, callsSent),
			MessagesPerCall:    perCall(recvMessages, callsTotal),
			Funcs:              received,
		},
		Errors: errorInfo{
			TotalErrors:     errs.totalErrors.Load(),
			ConnectFailures: errs.connectFailures.Load(),
			WriteFailures:   errs.writeFailures.Load(),
			DecodeFailures:  errs.decodeFailures.Load(),
			ServerErrors:    errs.serverErrors.Load(),
			FailedReturns:   errs.failedReturns.Load(),
			ReturnMissing:   errs.returnMissing.Load(),
		},
	}
}

func writeSummary(w io.Writer, report benchReport) {
	fmt.Fprintln(w, "=== socksync Load Benchmark ===")
	fmt.Fprintf(w, "Profile: %s\n", report.Workload.Profile)
	fmt.Fprintf(w, "Clients: %d\n", report.Workload.Clients)
	fmt.Fprintf(w, "Duration: %s\n", time.Duration(report.Workload.DurationMS)*time.Millisecond)
	fmt.Fprintf(w, "Target per-client rate: %.2f calls/s\n", report.Workload.RPSPerClient)
	fmt.Fprintf(w, "List size: %d (page size %d)\n", report.Workload.ListSize, report.Workload.PageSize)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Total calls: %d\n", report.Throughput.CallsTotal)
	fmt.Fprintf(w, "Throughput: %.1f calls/s (%.2f per client)\n", report.Throughput.CallsPerSec, report.Throughput.CallsPerSecClient)
	fmt.Fprintf(w, "Errors: %d\n", report.Errors.TotalErrors)
	fmt.Fprintln(w)

	if report.LatencyMS.Max == 0 {
		fmt.Fprintln(w, "No latency samples recorded.")
	} else {
		fmt.Fprintln(w, "RTT (call -> server -> return received):")
		fmt.Fprintf(w, "  min: %.2f ms\n", report.LatencyMS.Min)
		fmt.Fprintf(w, "  p50: %.2f ms\n", report.LatencyMS.P50)
		fmt.Fprintf(w, "  p95: %.2f ms\n", report.LatencyMS.P95)
		fmt.Fprintf(w, "  p99: %.2f ms\n", report.LatencyMS.P99)
		fmt.Fprintf(w, "  max: %.2f ms\n", report.LatencyMS.Max)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "List fan-out (sets per call):")
	fmt.Fprintf(w, "  observed: %.2f\n", report.Fanout.SetsPerCall)
	fmt.Fprintf(w, "  expected: %.2f\n", report.Fanout.ExpectedPerCall)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Protocol (per call):")
	fmt.Fprintf(w, "  sent bytes:        %.1f\n", report.Protocol.AvgSentBytes)
	fmt.Fprintf(w, "  messages received: %.2f\n", report.Protocol.MessagesPerCall)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Server:")
	fmt.Fprintf(w, "  messages in/out:  %d/%d\n", report.Server.MessagesIn, report.Server.MessagesOut)
	fmt.Fprintf(w, "  write errors:     %d\n", report.Server.WriteErrors)
	fmt.Fprintf(w, "  list subscribers: %d\n", report.Server.ListSubscribers)
}

func writeJSON(path string, report benchReport) error {
	var out io.Writer
	if path == "-" {
		out = os.Stdout
	} else {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
