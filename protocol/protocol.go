// Package protocol defines the JSON messages exchanged over the WebSocket
// control channel between the daemon and the agent-bridge inside containers.
package protocol

// Method names a bridge operation.
type Method string

const (
	MethodExecutePrompt Method = "execute_prompt"
	MethodRunShell      Method = "run_shell"
	MethodUploadFile    Method = "upload_file"
	MethodDownloadFile  Method = "download_file"
	MethodHealthCheck   Method = "health_check"
)

// Request is the envelope sent from daemon → bridge. One request per logical
// operation; frames carrying the same ID answer it.
type Request struct {
	ID     string `json:"id"`
	Method Method `json:"method"`
	Params Params `json:"params,omitempty"`
}

// Params carries the per-method arguments. Unused fields stay empty.
type Params struct {
	// execute_prompt
	Prompt string            `json:"prompt,omitempty"`
	Env    map[string]string `json:"env,omitempty"`

	// run_shell
	Command string `json:"command,omitempty"`

	// upload_file / download_file. File content always travels base64
	// inside the JSON payload, never through shell interpolation.
	Filename      string `json:"filename,omitempty"`
	Path          string `json:"path,omitempty"`
	ContentBase64 string `json:"content_base64,omitempty"`
}

// Frame is the envelope sent from bridge → daemon. Exactly one of Event,
// Chunk, Result or Error is set per frame; Done marks the terminal frame
// for the request ID. A terminal frame may carry Result or Error, or
// nothing at all for operations without a payload.
type Frame struct {
	ID     string         `json:"id"`
	Event  map[string]any `json:"event,omitempty"`
	Chunk  string         `json:"chunk,omitempty"`
	Result *Result        `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
	Done   bool           `json:"done"`
}

// Result is the terminal success payload for non-streaming methods.
type Result struct {
	// upload_file / download_file
	Path          string `json:"path,omitempty"`
	Size          int64  `json:"size,omitempty"`
	ContentBase64 string `json:"content_base64,omitempty"`

	// health_check
	Status       string `json:"status,omitempty"`
	UptimeS      int64  `json:"uptime_s,omitempty"`
	DiskTotalMB  int64  `json:"disk_total_mb,omitempty"`
	DiskUsedMB   int64  `json:"disk_used_mb,omitempty"`
	NumGoroutine int    `json:"num_goroutine,omitempty"`
}

// Terminal reports whether the frame ends its request.
func (f *Frame) Terminal() bool {
	return f.Done || f.Error != ""
}

// DefaultPort is the bridge listen port inside the container.
const DefaultPort = 9100

// WorkspacePath is the writable working directory inside the container.
// Every file path in upload_file/download_file is resolved against it.
const WorkspacePath = "/workspace"

// MaxFileBytes caps a single upload or download payload (decoded size).
const MaxFileBytes = 10 * 1024 * 1024 // 10 MB

// HealthStatusOK is the Status value a healthy bridge reports.
const HealthStatusOK = "ok"
