// Benchmark tool for a running teledocker daemon. Drives full session
// lifecycles through the HTTP API (create, shell stream, destroy) and
// reports per-phase latencies.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type hardwareInfo struct {
	Hostname      string `json:"hostname"`
	Kernel        string `json:"kernel"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	GoVersion     string `json:"go_version"`
	CPUModel      string `json:"cpu_model"`
	LogicalCPUs   int    `json:"logical_cpus"`
	MemoryTotalMB int64  `json:"memory_total_mb"`
}

type benchReport struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Hardware    hardwareInfo `json:"hardware"`
	Host        string       `json:"host"`
	Sessions    int          `json:"sessions"`
	Concurrency int          `json:"concurrency"`
	Command     string       `json:"command"`

	Runs     []lifecycleRun `json:"runs"`
	Failures int            `json:"failures"`

	Create     latencySummary `json:"create_summary"`
	FirstChunk latencySummary `json:"first_chunk_summary"`
	Stream     latencySummary `json:"stream_summary"`
	Destroy    latencySummary `json:"destroy_summary"`
}

type lifecycleRun struct {
	SessionID    string  `json:"session_id,omitempty"`
	OwnerID      string  `json:"owner_id"`
	CreateMs     float64 `json:"create_ms"`
	FirstChunkMs float64 `json:"first_chunk_ms"`
	StreamMs     float64 `json:"stream_ms"`
	DestroyMs    float64 `json:"destroy_ms"`
	Chunks       int     `json:"chunks"`
	Error        string  `json:"error,omitempty"`
}

type latencySummary struct {
	Count int     `json:"count"`
	AvgMs float64 `json:"avg_ms"`
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
}

func main() {
	var (
		host        = flag.String("host", "http://127.0.0.1:8080", "teledocker API base URL")
		token       = flag.String("token", strings.TrimSpace(os.Getenv("TELEDOCKER_SERVICE_TOKEN")), "service token (defaults to TELEDOCKER_SERVICE_TOKEN)")
		sessions    = flag.Int("sessions", 5, "number of session lifecycles to run")
		concurrency = flag.Int("concurrency", 1, "lifecycles in flight at once (bounded by the daemon's session quota)")
		command     = flag.String("command", "echo benchmark", "shell command streamed through each session")
		ownerPrefix = flag.String("owner-prefix", "bench", "owner id prefix; each lifecycle gets its own owner")
		jsonOut     = flag.Bool("json", false, "emit JSON report")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 {
		fail("sessions and concurrency must be positive")
	}

	client := newBenchClient(*host, *token)

	runs := runLifecycles(client, *sessions, *concurrency, *ownerPrefix, *command)

	rep := benchReport{
		GeneratedAt: time.Now().UTC(),
		Hardware:    collectHardware(),
		Host:        *host,
		Sessions:    *sessions,
		Concurrency: *concurrency,
		Command:     *command,
		Runs:        runs,
	}
	for _, r := range runs {
		if r.Error != "" {
			rep.Failures++
		}
	}
	rep.Create = summarize(collect(runs, func(r lifecycleRun) float64 { return r.CreateMs }))
	rep.FirstChunk = summarize(collect(runs, func(r lifecycleRun) float64 { return r.FirstChunkMs }))
	rep.Stream = summarize(collect(runs, func(r lifecycleRun) float64 { return r.StreamMs }))
	rep.Destroy = summarize(collect(runs, func(r lifecycleRun) float64 { return r.DestroyMs }))

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fail("encode report: %v", err)
		}
		return
	}
	printReport(rep)

	if rep.Failures > 0 {
		os.Exit(1)
	}
}

func runLifecycles(client *benchClient, sessions, concurrency int, ownerPrefix, command string) []lifecycleRun {
	jobs := make(chan int)
	results := make(chan lifecycleRun, sessions)

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				owner := fmt.Sprintf("%s-%d", ownerPrefix, i)
				results <- runOne(client, owner, command)
			}
		}()
	}

	for i := 0; i < sessions; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(results)

	runs := make([]lifecycleRun, 0, sessions)
	for r := range results {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].OwnerID < runs[j].OwnerID })
	return runs
}

// runOne drives a single create / shell / destroy lifecycle. The destroy
// still runs when the stream failed, so a broken daemon does not leak
// benchmark containers.
func runOne(client *benchClient, owner, command string) lifecycleRun {
	run := lifecycleRun{OwnerID: owner}

	start := time.Now()
	sessionID, err := client.createSession(owner)
	run.CreateMs = msSince(start)
	if err != nil {
		run.Error = "create: " + err.Error()
		return run
	}
	run.SessionID = sessionID

	firstChunk, total, chunks, err := client.streamShell(sessionID, command)
	run.FirstChunkMs = firstChunk
	run.StreamMs = total
	run.Chunks = chunks
	if err != nil {
		run.Error = "shell: " + err.Error()
	}

	start = time.Now()
	if err := client.destroySession(sessionID); err != nil && run.Error == "" {
		run.Error = "destroy: " + err.Error()
	}
	run.DestroyMs = msSince(start)

	return run
}

type benchClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newBenchClient(baseURL, token string) *benchClient {
	return &benchClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

func (c *benchClient) createSession(ownerID string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]any{"owner_id": ownerID}
	if err := c.doJSON(http.MethodPost, "/v1/sessions", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *benchClient) destroySession(id string) error {
	return c.doJSON(http.MethodDelete, "/v1/sessions/"+id, nil, nil)
}

// streamShell posts a command and consumes the whole event stream, timing
// the first payload and the full stream.
func (c *benchClient) streamShell(id, command string) (firstChunkMs, totalMs float64, chunks int, err error) {
	payload, err := json.Marshal(map[string]any{"command": command})
	if err != nil {
		return 0, 0, 0, err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/v1/sessions/"+id+"/shell", bytes.NewReader(payload))
	if err != nil {
		return 0, 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Service-Token", c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return 0, msSince(start), 0, fmt.Errorf("shell: %s %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var streamErr string
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		if chunks == 0 {
			firstChunkMs = msSince(start)
		}
		chunks++

		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}
		var frame struct {
			Error string `json:"error"`
		}
		if json.Unmarshal([]byte(payload), &frame) == nil && frame.Error != "" {
			streamErr = frame.Error
			break
		}
	}
	totalMs = msSince(start)
	if err := scanner.Err(); err != nil {
		return firstChunkMs, totalMs, chunks, err
	}
	if streamErr != "" {
		return firstChunkMs, totalMs, chunks, fmt.Errorf("stream error: %s", streamErr)
	}
	return firstChunkMs, totalMs, chunks, nil
}

func (c *benchClient) doJSON(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-Service-Token", c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: %s %s", method, path, resp.Status, strings.TrimSpace(string(raw)))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func summarize(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Count: len(sorted),
		AvgMs: sum / float64(len(sorted)),
		MinMs: sorted[0],
		MaxMs: sorted[len(sorted)-1],
		P50Ms: percentile(sorted, 0.50),
		P95Ms: percentile(sorted, 0.95),
	}
}

// collect extracts one metric from the successful runs.
func collect(runs []lifecycleRun, metric func(lifecycleRun) float64) []float64 {
	out := make([]float64, 0, len(runs))
	for _, r := range runs {
		if r.Error != "" {
			continue
		}
		out = append(out, metric(r))
	}
	return out
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func printReport(rep benchReport) {
	fmt.Printf("teledocker-bench report (%s)\n", rep.GeneratedAt.Format(time.RFC3339))
	fmt.Printf("Host: %s | Kernel: %s | CPU: %s (%d cores) | RAM: %d MiB\n",
		rep.Hardware.Hostname,
		rep.Hardware.Kernel,
		rep.Hardware.CPUModel,
		rep.Hardware.LogicalCPUs,
		rep.Hardware.MemoryTotalMB,
	)
	fmt.Printf("Target: %s | sessions=%d concurrency=%d command=%q\n\n", rep.Host, rep.Sessions, rep.Concurrency, rep.Command)

	printSummary("create", rep.Create)
	printSummary("first chunk", rep.FirstChunk)
	printSummary("stream", rep.Stream)
	printSummary("destroy", rep.Destroy)

	if rep.Failures > 0 {
		fmt.Printf("\nFailures: %d\n", rep.Failures)
	}

	fmt.Println("\nRuns:")
	for _, r := range rep.Runs {
		if r.Error != "" {
			fmt.Printf("  - owner=%s FAILED: %s\n", r.OwnerID, r.Error)
			continue
		}
		fmt.Printf("  - owner=%s id=%s create=%.1fms first_chunk=%.1fms stream=%.1fms destroy=%.1fms chunks=%d\n",
			r.OwnerID, r.SessionID, r.CreateMs, r.FirstChunkMs, r.StreamMs, r.DestroyMs, r.Chunks)
	}
}

func printSummary(label string, s latencySummary) {
	fmt.Printf("  %-12s count=%d avg=%.1fms min=%.1fms max=%.1fms p50=%.1fms p95=%.1fms\n",
		label, s.Count, s.AvgMs, s.MinMs, s.MaxMs, s.P50Ms, s.P95Ms)
}

func collectHardware() hardwareInfo {
	host, _ := os.Hostname()
	return hardwareInfo{
		Hostname:      host,
		Kernel:        readOneLine("/proc/sys/kernel/osrelease"),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		GoVersion:     runtime.Version(),
		CPUModel:      readCPUModel(),
		LogicalCPUs:   runtime.NumCPU(),
		MemoryTotalMB: readMemTotalMiB(),
	}
}

func readCPUModel() string {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return "unknown"
	}
	for _, ln := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(ln, "model name") {
			parts := strings.SplitN(ln, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return "unknown"
}

func readMemTotalMiB() int64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, ln := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(ln, "MemTotal:") {
			f := strings.Fields(ln)
			if len(f) >= 2 {
				kb, _ := strconv.ParseInt(f[1], 10, 64)
				return kb / 1024
			}
		}
	}
	return 0
}

func readOneLine(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func fail(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, "teledocker-bench: "+msg+"\n", args...)
	os.Exit(1)
}
