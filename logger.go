package identity

import (
	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the module.
type Logger = glog.Logger

// LoggerProvider hands out named loggers.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// LoggerProviderFunc adapts a function to LoggerProvider.
type LoggerProviderFunc func(name string) Logger

// GetLogger implements LoggerProvider.
func (f LoggerProviderFunc) GetLogger(name string) Logger {
	if f == nil {
		return nil
	}
	return f(name)
}

// ResolveLogger picks the logger for name. A logger returned by provider wins,
// then the fallback logger, then the package default. The returned provider
// never yields nil.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	resolved := logger
	if provider != nil {
		if scoped := provider.GetLogger(name); scoped != nil {
			resolved = scoped
		}
	}

	if resolved == nil {
		resolved = defaultLogger()
	}

	fallback := resolved
	wrapped := LoggerProviderFunc(func(n string) Logger {
		if provider != nil {
			if l := provider.GetLogger(n); l != nil {
				return l
			}
		}
		return fallback
	})

	return wrapped, resolved
}

// NamedLogger returns the package default logger scoped to name.
func NamedLogger(name string) Logger {
	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithName("identity"),
		glog.WithAddSource(false),
	).GetLogger(name)
}

func defaultLogger() Logger {
	return NamedLogger("identity")
}
