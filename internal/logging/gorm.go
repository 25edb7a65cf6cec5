package logging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SlowQuery is the threshold above which statements are logged at warn level.
const SlowQuery = 200 * time.Millisecond

// Gorm adapts z to gorm's logger. Statement failures are logged at warn
// level since most of them are client errors surfaced in the response.
func Gorm(z *zap.Logger) gormlogger.Interface {
	if z == nil {
		z = zap.NewNop()
	}
	return &gormLog{z: z.Named("gorm").WithOptions(zap.AddCallerSkip(3)), level: gormlogger.Warn}
}

type gormLog struct {
	z     *zap.Logger
	level gormlogger.LogLevel
}

func (l *gormLog) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *gormLog) Info(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.z.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLog) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.z.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLog) Error(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.z.Error(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLog) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.z.Warn("statement failed", zap.Error(err), zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	case elapsed > SlowQuery && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.z.Warn("slow statement", zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.z.Debug("statement", zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	}
}
