package logging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger adapts a logrus logger to gorm's logger.Interface. SQL is logged
// at trace level; slow queries and query errors at warn level.
type GormLogger struct {
	logger        logrus.FieldLogger
	slowThreshold time.Duration
}

// NewGormLogger creates the adapter. A zero slowThreshold disables slow-query warnings.
func NewGormLogger(logger logrus.FieldLogger, slowThreshold time.Duration) *GormLogger {
	if logger == nil {
		logger = Discard()
	}
	return &GormLogger{logger: logger, slowThreshold: slowThreshold}
}

// LogMode is a no-op; the level is owned by the logrus logger.
func (g *GormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return g
}

func (g *GormLogger) Info(_ context.Context, msg string, data ...any) {
	g.logger.Debug(fmt.Sprintf(msg, data...))
}

func (g *GormLogger) Warn(_ context.Context, msg string, data ...any) {
	g.logger.Warn(fmt.Sprintf(msg, data...))
}

func (g *GormLogger) Error(_ context.Context, msg string, data ...any) {
	g.logger.Error(fmt.Sprintf(msg, data...))
}

func (g *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := logrus.Fields{
		"sql":           sql,
		"rows_affected": rows,
		"duration_ms":   elapsed.Milliseconds(),
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		g.logger.WithFields(fields).WithError(err).Warn("query error")
	case g.slowThreshold > 0 && elapsed > g.slowThreshold:
		g.logger.WithFields(fields).Warn("slow query")
	default:
		g.logger.WithFields(fields).Trace("query")
	}
}
