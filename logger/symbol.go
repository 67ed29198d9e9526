package logger

import (
	"github.com/teranos/tempo/sym"
	"go.uber.org/zap"
)

// Symbol-aware logging helpers.
// These functions attach the symbol as a structured field, not in the message,
// keeping messages clean and logs queryable by symbol.
//
// Usage:
//
//	// At initialization:
//	e.engineLog = logger.AddEngineSymbol(baseLogger)
//
//	// Or inline:
//	logger.AddEngineSymbol(s.logger).Infow("Engine started", "interval", interval)

// AddEngineSymbol wraps a logger with the Engine symbol (꩜)
func AddEngineSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Engine)
}

// AddOpenSymbol wraps a logger with the Open symbol (✿), used for startup
func AddOpenSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Open)
}

// AddCloseSymbol wraps a logger with the Close symbol (❀), used for shutdown
func AddCloseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Close)
}

// AddDBSymbol wraps a logger with the DB symbol (⊔)
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.DB)
}

// WithSymbol returns the global logger with the given symbol as a field.
func WithSymbol(symbol string) *zap.SugaredLogger {
	return Logger.With(FieldSymbol, symbol)
}
