// Package observability builds the zap logger and the Prometheus collectors
// of the API.
package observability
