// Package handler implements the HTTP surface of ellen.
//
// # Endpoints
//
//	POST /savegorilla   receive one Gorilla/Ivar notification
//	GET  /healthcheck   liveness text
//	GET  /events        server-sent events for stored, pruned and rolled-over data
//	GET  /metrics       Prometheus metrics
//
// # Response Format
//
// A stored notification returns 200 with {"id": ...}. Errors are returned as
// JSON with an {error, details} structure:
//
//   - 400 when the body is not a Gorilla formatted object
//   - 503 "storage missing" when the backing store could not be recreated
//   - 500 with details when the store rejected the write
package handler
