package logger

// Logger is the minimal structured logging interface the engine, catalog and
// stores accept. Implementations take alternating key/value pairs, which
// keeps the interface small and easy to mock in tests.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}
