package stream_gateway

import (
	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
)

const (
	FrameHello   = "hello"
	FrameWelcome = "welcome"
	FrameCall    = "call"
	FrameResult  = "result"
	FrameError   = "error"
	FramePing    = "ping"
	FramePong    = "pong"
	FrameGoodbye = "goodbye"
)

// ClientFrame is one newline-delimited JSON frame sent by the client. The
// Type field selects which of the remaining fields are meaningful.
type ClientFrame struct {
	Type string `json:"type"`

	// hello
	Identity string `json:"identity,omitempty"`

	// call
	ID        string           `json:"id,omitempty"`
	Document  renders.Document `json:"document"`
	Options   renders.Options  `json:"options"`
	DependsOn []string         `json:"depends_on,omitempty"`

	// ping / pong
	Seq int64 `json:"seq,omitempty"`

	// goodbye
	Reason string `json:"reason,omitempty"`
}

// ServerFrame is one newline-delimited JSON frame sent by the server.
type ServerFrame struct {
	Type string `json:"type"`

	// welcome
	SessionID           string `json:"session_id,omitempty"`
	HeartbeatIntervalMs int64  `json:"heartbeat_interval_ms,omitempty"`

	// result
	ID          string `json:"id,omitempty"`
	JobID       string `json:"job_id,omitempty"`
	Output      []byte `json:"output,omitempty"`
	PageCount   int    `json:"page_count,omitempty"`
	OutputBytes int    `json:"output_bytes,omitempty"`
	TimingMs    int64  `json:"timing_ms,omitempty"`

	// error
	Kind         string `json:"kind,omitempty"`
	Message      string `json:"message,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`

	// ping / pong
	Seq int64 `json:"seq,omitempty"`

	// goodbye
	Reason string `json:"reason,omitempty"`
}

func resultFrame(result *renders.Result) ServerFrame {
	return ServerFrame{
		Type:        FrameResult,
		ID:          result.CallID,
		JobID:       result.JobID,
		Output:      result.Data,
		PageCount:   result.PageCount,
		OutputBytes: result.OutputBytes,
		TimingMs:    result.TimingMs,
	}
}

func errorFrame(callError *renders.CallError) ServerFrame {
	return ServerFrame{
		Type:         FrameError,
		ID:           callError.CallID,
		Kind:         callError.Kind,
		Message:      callError.Message,
		RetryAfterMs: callError.RetryAfterMs,
	}
}
