package badgerstore

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
)

// badgerLogger routes badger's printf style logging into logr.
type badgerLogger struct {
	logger logr.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(nil, message(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Info(message(format, args...), "level", "warning")
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.V(1).Info(message(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.V(2).Info(message(format, args...))
}

func message(format string, args ...any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
