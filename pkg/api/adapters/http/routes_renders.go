package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/WarriorSushi/speedstein/pkg/api/adapters/appcontext"
	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
	"github.com/eser/ajan/httpfx"
)

// IdentityHeader carries the caller identity that selects the pool shard.
// Requests without it render under the shared anonymous identity.
const IdentityHeader = "X-Identity"

type batchRequest struct {
	Calls []renders.Call `json:"calls"`
}

func RegisterHttpRoutesForRenders( //nolint:funlen
	routes *httpfx.Router,
	appContext *appcontext.AppContext,
) {
	routes.
		Route(
			"POST /render",
			func(ctx *httpfx.Context) httpfx.Result {
				identity := ctx.Request.Header.Get(IdentityHeader)

				// get body
				var call renders.Call
				err := json.NewDecoder(ctx.Request.Body).Decode(&call)
				if err != nil {
					return renderError(ctx, appContext, "", fmt.Errorf("%w: %w", renders.ErrValidationFailed, err))
				}

				result, err := appContext.Gateway.RenderOne(ctx.Request.Context(), identity, call)
				if err != nil {
					return renderError(ctx, appContext, call.ID, err)
				}

				return ctx.Results.Json(result)
			},
		).
		HasSummary("Render a document").
		HasDescription("Render a single HTML document into a paginated PDF.").
		HasResponse(http.StatusOK)

	routes.
		Route(
			"POST /render/batch",
			func(ctx *httpfx.Context) httpfx.Result {
				identity := ctx.Request.Header.Get(IdentityHeader)

				// get body
				var batch batchRequest
				err := json.NewDecoder(ctx.Request.Body).Decode(&batch)
				if err != nil {
					return renderError(ctx, appContext, "", fmt.Errorf("%w: %w", renders.ErrValidationFailed, err))
				}

				result, err := appContext.Gateway.RenderBatch(ctx.Request.Context(), identity, batch.Calls)
				if err != nil {
					return renderError(ctx, appContext, "", err)
				}

				return ctx.Results.Json(result)
			},
		).
		HasSummary("Render a batch").
		HasDescription("Render a batch of documents, resolving depends_on edges between calls.").
		HasResponse(http.StatusOK)

	routes.
		Route(
			"GET /ping",
			func(ctx *httpfx.Context) httpfx.Result {
				return ctx.Results.PlainText([]byte("pong"))
			},
		).
		HasSummary("Liveness probe").
		HasDescription("Answers pong while the gateway is accepting calls.").
		HasResponse(http.StatusOK)

	routes.
		Route(
			"GET /stats",
			func(ctx *httpfx.Context) httpfx.Result {
				return ctx.Results.Json(appContext.Gateway.Stats())
			},
		).
		HasSummary("Pool statistics").
		HasDescription("Snapshot of pool occupancy, queue depth and session counts across shards.").
		HasResponse(http.StatusOK)
}

func renderError(
	ctx *httpfx.Context,
	appContext *appcontext.AppContext,
	callID string,
	err error,
) httpfx.Result {
	callError := appContext.Gateway.CallError(callID, err)

	payload, marshalErr := json.Marshal(callError)
	if marshalErr != nil {
		return ctx.Results.Error(http.StatusInternalServerError, []byte(err.Error()))
	}

	return ctx.Results.Error(statusForError(err), payload)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, renders.ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, renders.ErrCapacityExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, renders.ErrRenderFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, renders.ErrInstanceCrashed), errors.Is(err, renders.ErrCreationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
