package archive

import "time"

// Logger is the subset of structured logging the archive code needs.
// Args alternate keys and values.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Clock supplies the backup date written into manifests.
type Clock interface {
	Now() time.Time
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
