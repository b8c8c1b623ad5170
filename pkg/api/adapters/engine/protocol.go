package engine

import "github.com/WarriorSushi/speedstein/pkg/api/business/renders"

// The engine process speaks newline delimited JSON over its standard
// streams: one ready frame at boot, then one response frame per request,
// in request order.

type readyFrame struct {
	Ready         bool   `json:"ready"`
	EngineVersion string `json:"engine_version,omitempty"`
}

type requestFrame struct {
	ID       string           `json:"id"`
	Document renders.Document `json:"document"`
	Options  renders.Options  `json:"options"`
}

type responseFrame struct {
	ID        string `json:"id"`
	OK        bool   `json:"ok"`
	Data      []byte `json:"data,omitempty"`
	PageCount int    `json:"page_count,omitempty"`
	Error     string `json:"error,omitempty"`
}
