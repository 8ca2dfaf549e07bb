/*
Package observability turns session lifecycle hooks into metrics and logs.

Metrics are Prometheus counters registered on a caller-supplied registry. Hook sets can be
combined so a Party can feed metrics and structured logs at the same time.
*/
package observability
