package renders_test

import (
	"strings"
	"testing"
	"time"

	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *renders.Config {
	return &renders.Config{
		MaxDocumentBytes: 1024,
		DefaultTimeout:   30 * time.Second,
		MaxTimeout:       2 * time.Minute,
	}
}

func TestValidateCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		call    renders.Call
		wantErr string
	}{
		{
			name: "minimal valid call",
			call: renders.Call{Document: renders.Document{HTML: "<p>ok</p>"}},
		},
		{
			name: "full options",
			call: renders.Call{
				ID:       "invoice-1",
				Document: renders.Document{HTML: "<p>ok</p>", BaseURL: "https://example.com/"},
				Options: renders.Options{
					Format:          "A4",
					Landscape:       true,
					Scale:           1.5,
					Margins:         &renders.Margins{Top: "1cm", Bottom: "1cm"},
					PrintBackground: true,
					PageRanges:      "1-3",
				},
			},
		},
		{
			name:    "empty document",
			call:    renders.Call{ID: "a"},
			wantErr: "document is empty",
		},
		{
			name: "oversized document",
			call: renders.Call{
				Document: renders.Document{HTML: strings.Repeat("x", 2048)},
			},
			wantErr: "limit is 1024",
		},
		{
			name: "scale too small",
			call: renders.Call{
				Document: renders.Document{HTML: "<p>ok</p>"},
				Options:  renders.Options{Scale: 0.05},
			},
			wantErr: "scale",
		},
		{
			name: "scale too large",
			call: renders.Call{
				Document: renders.Document{HTML: "<p>ok</p>"},
				Options:  renders.Options{Scale: 3},
			},
			wantErr: "scale",
		},
		{
			name: "unknown format",
			call: renders.Call{
				Document: renders.Document{HTML: "<p>ok</p>"},
				Options:  renders.Options{Format: "A9"},
			},
			wantErr: "unknown page format",
		},
		{
			name: "call id too long",
			call: renders.Call{
				ID:       strings.Repeat("a", 200),
				Document: renders.Document{HTML: "<p>ok</p>"},
			},
			wantErr: "call id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := renders.ValidateCall(testConfig(), &tt.call)

			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, renders.ErrValidationFailed)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEffectiveTimeout(t *testing.T) {
	t.Parallel()

	config := testConfig()

	assert.Equal(t, 30*time.Second, renders.EffectiveTimeout(config, renders.Options{}))
	assert.Equal(t, 5*time.Second, renders.EffectiveTimeout(config, renders.Options{TimeoutMs: 5000}))
	assert.Equal(t, 2*time.Minute, renders.EffectiveTimeout(config, renders.Options{TimeoutMs: 600000}))
	assert.Equal(t, 30*time.Second, renders.EffectiveTimeout(config, renders.Options{TimeoutMs: -1}))
}
