package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/WarriorSushi/speedstein/pkg/api/adapters/appcontext"
	"github.com/WarriorSushi/speedstein/pkg/api/business/gateway"
	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
	"github.com/eser/ajan/httpfx"
)

func RegisterHttpRoutesForJobs(
	routes *httpfx.Router,
	appContext *appcontext.AppContext,
) {
	routes.
		Route(
			"GET /jobs",
			func(ctx *httpfx.Context) httpfx.Result {
				// get variables from query string
				params := ctx.Request.URL.Query()

				limit := 0
				if rawLimit := params.Get("limit"); rawLimit != "" {
					parsed, err := strconv.Atoi(rawLimit)
					if err != nil || parsed < 0 {
						return renderError(ctx, appContext, "", fmt.Errorf(
							"%w: limit must be a non-negative integer", renders.ErrValidationFailed))
					}

					limit = parsed
				}

				jobs, err := appContext.Gateway.ListJobs(ctx.Request.Context(), gateway.JobQuery{
					Identity: params.Get("identity"),
					Status:   params.Get("status"),
					Limit:    limit,
				})
				if err != nil {
					return renderError(ctx, appContext, "", err)
				}

				return ctx.Results.Json(jobs)
			},
		).
		HasSummary("List render jobs").
		HasDescription("List stored render job records, newest first, optionally filtered by identity and status.").
		HasResponse(http.StatusOK)

	routes.
		Route(
			"GET /jobs/{id}",
			func(ctx *httpfx.Context) httpfx.Result {
				// get variables from path
				idParam := ctx.Request.PathValue("id")

				job, err := appContext.Gateway.GetJob(ctx.Request.Context(), idParam)
				if err != nil {
					if errors.Is(err, gateway.ErrJobNotFound) {
						return ctx.Results.NotFound()
					}

					return renderError(ctx, appContext, "", err)
				}

				return ctx.Results.Json(job)
			},
		).
		HasSummary("Get render job").
		HasDescription("Look up the bookkeeping record of a render call by job ID.").
		HasResponse(http.StatusOK)
}
