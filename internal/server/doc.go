// Package server implements the HTTP server for the hospital backend. It
// composes the request pipeline (request ids, access logging, the central
// error handler, CORS and body parsing), mounts the API route groups and
// serves the health, readiness and metrics endpoints.
package server
