// Package http serves a read-only inspection API over persisted checkpoints,
// a server-sent event stream of session status transitions and Prometheus metrics.
package http
