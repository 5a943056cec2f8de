// Package api serves the cadplug verification HTTP API and holds the
// verify-then-record workflow shared with the inbox daemon.
//
// Routes:
//
//	POST /api/v1/verifications          verify {"path": ...} and record the result
//	GET  /api/v1/verifications          list recent records (?limit=, default 50)
//	GET  /api/v1/verifications/{id}     one record with its error list
//	POST /api/v1/manifests/validate     validate a raw plugin.json body
//	GET  /healthz, /readyz              liveness and ledger readiness
//	GET  /metrics                       Prometheus exposition
//
// Verification targets are resolved against the server's root directory and
// requests that escape it are rejected with 403.
package api
