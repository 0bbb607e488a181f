//go:build noprom

package metrics

// Built with -tags noprom: keep the no-op recorder even when metrics are
// requested via env.
func enablePrometheus(addr string) error { return nil }
