package ports

// LoggerMethods is the fixed method set a custom logger must expose.
var LoggerMethods = []string{"Trace", "Debug", "Info", "Warn", "Error", "Fatal", "Child"}

// Logger is the structured logger handed to registries, operations and
// step contexts. Arguments after msg are slog-style key/value pairs.
type Logger interface {
	Trace(msg string, args ...any)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Fatal(msg string, args ...any)
	// Child returns a logger with the given key/value bindings attached.
	Child(args ...any) Logger
}
