package src

import "go.uber.org/zap"

// Logger is the logging facade shared by every subsystem. It is satisfied by
// *zap.SugaredLogger; tests pass zap.NewNop().Sugar().
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)

	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)

	Sync() error
}

var _ Logger = (*zap.SugaredLogger)(nil)

func NewNopLogger() Logger {
	return zap.NewNop().Sugar()
}
