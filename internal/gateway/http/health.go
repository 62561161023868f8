package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/bpmgate/pkg/authsdk"
	"github.com/aussiebroadwan/bpmgate/pkg/httpx"
)

// LivezHandler godoc
//
//	@Summary		Health Check Endpoint
//	@Description	Liveness probe endpoint returning basic service health status, uptime, and version information
//	@Description	This endpoint always returns 200 OK if the service is running
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, backend, uptime, version"
//	@Router			/livez [get].
func LivezHandler(startTime time.Time, version, backend string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, authsdk.HealthResponse{
			Status:  "ok",
			Backend: backend,
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler godoc
//
//	@Summary		Readiness Check Endpoint
//	@Description	Readiness probe endpoint running the checks of the active backend
//	@Description	SSO deployments are not ready until the provider's signing keys are loaded
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, backend, uptime, version"
//	@Failure		503	{object}	authsdk.HealthResponse	"status, backend, uptime, version, failed checks"
//	@Router			/readyz [get].
func ReadyzHandler(startTime time.Time, version, backend string, checks map[string]ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		failed := map[string]string{}
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				failed[name] = "error: " + err.Error()
			}
		}

		response := authsdk.HealthResponse{
			Status:  "ok",
			Backend: backend,
			Uptime:  time.Since(startTime).String(),
			Version: version,
		}
		statusCode := http.StatusOK
		if len(failed) > 0 {
			response.Status = "unavailable"
			response.Checks = failed
			statusCode = http.StatusServiceUnavailable
		}
		httpx.WriteJSON(w, statusCode, response)
	}
}
