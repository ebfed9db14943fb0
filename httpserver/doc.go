/*
Package httpserver implements the guard daemon's HTTP API.

It exposes the active security configuration and policy evaluation over a
local listener so operators and host tooling can inspect guard state, force
configuration reloads, and feed observation sets through the policy engine.
Prometheus metrics are served on a separate listener so scrapes survive API
drain.

# Endpoints

  - GET /api/v1/status - Active config provenance, strategy and key tier
  - GET /api/v1/config - Active security configuration document
  - POST /api/v1/config/reload - Reload through the signed/unsigned/default chain
  - POST /api/v1/signals - Evaluate an observation set, optionally enforce
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

# Signal Evaluation

POST /api/v1/signals accepts an observation set and returns one decision per
signal plus the most severe decision:

	{
	  "rootSignals": 2,
	  "debugger": true,
	  "enforce": false
	}

With "enforce": true the most severe decision is executed through the
configured enforcement hooks; for TERMINATE this may end the guarded process
group before the response is written. Evaluation is stateless; debouncing and
counting over time belong to the detectors submitting observations. Non-ALLOW
decisions are appended to the audit log.

# Example Usage

	// Create handler around the config loader
	handler, err := httpserver.NewHandler(httpserver.HandlerConfig{
		Loader:   loader,
		Keys:     keyStore,
		Executor: executor,
		Audit:    auditLog,
		Log:      logger,
	})
	if err != nil {
		log.Fatalf("Failed to create handler: %v", err)
	}

	// Create server
	server, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               "127.0.0.1:8080",
		MetricsAddr:              "127.0.0.1:8090",
		Log:                      logger,
		DrainDuration:            30 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}, handler)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Run in background
	server.RunInBackground()

	// Shutdown gracefully on exit
	defer server.Shutdown()
*/
package httpserver
