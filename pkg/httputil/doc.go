// Package httputil provides helpers shared by the admin API handlers.
//
// Responses are JSON. Errors are written as {"error": "..."}; handlers map
// package sentinel errors to status codes with a []StatusMapping table and
// WriteMappedError, which hides the detail of anything unmapped behind a 500.
//
//	if err != nil {
//		httputil.WriteMappedError(w, err, errorStatuses)
//		return
//	}
//
// Middleware attaches a request ID and request-scoped logger, logs each
// request, recovers panics and enforces JSON bodies:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//	)(router)
package httputil
