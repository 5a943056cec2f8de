// Package httputil provides the JSON response, request parsing and
// middleware helpers shared by the cadplug HTTP handlers.
//
// # Responses
//
//	httputil.WriteSuccess(w, record)
//	httputil.WriteNotFoundError(w, "verification not found")
//
// # Requests
//
//	var req VerifyRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	limit, err := httputil.ParseQueryInt(r, "limit", 50)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
