package renders

import "time"

type Document struct {
	HTML    string `json:"html"`
	BaseURL string `json:"base_url,omitempty"`
}

type Margins struct {
	Top    string `json:"top,omitempty"`
	Bottom string `json:"bottom,omitempty"`
	Left   string `json:"left,omitempty"`
	Right  string `json:"right,omitempty"`
}

type Options struct {
	Format          string   `json:"format,omitempty"`
	Landscape       bool     `json:"landscape,omitempty"`
	Scale           float64  `json:"scale,omitempty"`
	Margins         *Margins `json:"margins,omitempty"`
	PrintBackground bool     `json:"print_background,omitempty"`
	PageRanges      string   `json:"page_ranges,omitempty"`
	TimeoutMs       int64    `json:"timeout_ms,omitempty"`
}

// Call is one logical render request. DependsOn names earlier calls whose
// outputs must be available before this call is dispatched.
type Call struct {
	ID        string   `json:"id,omitempty"`
	Document  Document `json:"document"`
	Options   Options  `json:"options,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
}

type Output struct {
	Data      []byte `json:"data"`
	PageCount int    `json:"page_count"`
}

type Result struct {
	CallID      string `json:"call_id"`
	JobID       string `json:"job_id,omitempty"`
	Data        []byte `json:"data,omitempty"`
	PageCount   int    `json:"page_count"`
	OutputBytes int    `json:"output_bytes"`
	TimingMs    int64  `json:"timing_ms"`
	InstanceID  string `json:"instance_id,omitempty"`
	Fallback    bool   `json:"fallback,omitempty"`
}

const (
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// Job is the per-call record persisted for the dashboard read model. It is
// written after a call resolves and never read on the render path.
type Job struct {
	JobID       string    `json:"job_id"                dynamodbav:"JobId"`
	CallID      string    `json:"call_id"               dynamodbav:"CallId"`
	Identity    string    `json:"identity"              dynamodbav:"Identity"`
	Status      string    `json:"status"                dynamodbav:"Status"`
	Kind        string    `json:"kind,omitempty"        dynamodbav:"Kind,omitempty"`
	Message     string    `json:"message,omitempty"     dynamodbav:"Message,omitempty"`
	OutputBytes int       `json:"output_bytes"          dynamodbav:"OutputBytes"`
	PageCount   int       `json:"page_count"            dynamodbav:"PageCount"`
	TimingMs    int64     `json:"timing_ms"             dynamodbav:"TimingMs"`
	InstanceID  string    `json:"instance_id,omitempty" dynamodbav:"InstanceId,omitempty"`
	Shard       int       `json:"shard"                 dynamodbav:"Shard"`
	Fallback    bool      `json:"fallback,omitempty"    dynamodbav:"Fallback"`
	CreatedAt   time.Time `json:"created_at"            dynamodbav:"CreatedAt"`
	CompletedAt time.Time `json:"completed_at"          dynamodbav:"CompletedAt"`
}

// UsageRecord is the billing event emitted once per successful render.
type UsageRecord struct {
	Identity    string    `json:"identity"`
	JobID       string    `json:"job_id"`
	OutputBytes int       `json:"output_bytes"`
	TimingMs    int64     `json:"timing_ms"`
	RenderedAt  time.Time `json:"rendered_at"`
}
