package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/eser/ajan/processfx"

	"github.com/WarriorSushi/speedstein/pkg/api/adapters/appcontext"
	"github.com/WarriorSushi/speedstein/pkg/api/adapters/http"
)

func main() {
	baseCtx := context.Background()

	appContext, err := appcontext.NewAppContext(baseCtx)
	if err != nil {
		panic(err)
	}

	err = appContext.Run(baseCtx)
	if err != nil {
		panic(err)
	}

	process := processfx.New(baseCtx, appContext.Logger)

	process.StartGoroutine("http-server", func(ctx context.Context) error {
		cleanup, err := http.Run(
			process.Ctx,
			appContext,
		)

		if err != nil {
			appContext.Logger.ErrorContext(
				ctx,
				"[Main] HTTP server run failed",
				slog.String("module", "main"),
				slog.Any("error", err))

			return err
		}

		defer cleanup()

		<-ctx.Done()

		return nil
	})

	if appContext.Config.Features.StreamGateway {
		process.StartGoroutine("stream-gateway", func(ctx context.Context) error {
			cleanup, err := appContext.StreamGateway.Start(process.Ctx)
			if err != nil {
				appContext.Logger.ErrorContext(
					ctx,
					"[Main] Stream gateway run failed",
					slog.String("module", "main"),
					slog.Any("error", err))

				return err
			}

			defer cleanup()

			<-ctx.Done()

			return nil
		})
	}

	process.StartGoroutine("session-reaper", func(ctx context.Context) error {
		ticker := time.NewTicker(appContext.Config.Sessions.ReapInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil

			case now := <-ticker.C:
				reaped := appContext.Sessions.ReapStale(now)
				if reaped > 0 {
					appContext.Logger.InfoContext(
						ctx,
						"[Main] Reaped stale sessions",
						slog.String("module", "main"),
						slog.Int("count", reaped))
				}
			}
		}
	})

	process.Wait()
	process.Shutdown()

	closeCtx, cancel := context.WithTimeout(context.Background(), appContext.Config.Pools.CloseGrace+time.Second)
	defer cancel()

	err = appContext.Pools.Close(closeCtx)
	if err != nil {
		appContext.Logger.Error(
			"[Main] Engine pool close failed",
			slog.String("module", "main"),
			slog.Any("error", err))
	}
}
