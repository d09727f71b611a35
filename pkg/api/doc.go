/*
Package api serves the controller's HTTP surface: Prometheus metrics and
health endpoints for the serve command.

	GET /metrics   Prometheus scrape
	GET /health    overall component health (200 or 503)
	GET /ready     runs every readiness check, then reports (200 or 503)
	GET /live      process liveness (always 200)

Readiness checks probe the controller's own dependencies (audit log, cluster
API, release store). Each check result is recorded as a metrics component of
the same name, so /health reflects the last /ready probe. The health of the
watched lineages is never reported here; that is what the decision loop and
its metrics are for.

# Usage

	hs := api.NewHealthServer(map[string]api.ReadinessCheck{
		"audit": func(ctx context.Context) error { return auditPing(ctx) },
	})
	go hs.Start(":9090")
	defer hs.Shutdown(context.Background())
*/
package api
