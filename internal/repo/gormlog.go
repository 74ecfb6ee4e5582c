package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormLogger adapts GORM's logger to zerolog. Record-not-found is expected
// on lookups and never logged.
type gormLogger struct {
	log   zerolog.Logger
	level logger.LogLevel
	slow  time.Duration
}

func newGormLogger(l zerolog.Logger, slow time.Duration) *gormLogger {
	return &gormLogger{log: l.With().Str("component", "gorm").Logger(), level: logger.Warn, slow: slow}
}

func (g *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *gormLogger) Info(_ context.Context, msg string, args ...any) {
	if g.level >= logger.Info {
		g.log.Info().Msg(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Warn(_ context.Context, msg string, args ...any) {
	if g.level >= logger.Warn {
		g.log.Warn().Msg(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Error(_ context.Context, msg string, args ...any) {
	if g.level >= logger.Error {
		g.log.Error().Msg(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= logger.Error:
		sql, rows := fc()
		g.log.Error().Err(err).Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query failed")
	case g.slow > 0 && elapsed > g.slow && g.level >= logger.Warn:
		sql, rows := fc()
		g.log.Warn().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("slow query")
	case g.level >= logger.Info:
		sql, rows := fc()
		g.log.Debug().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query")
	}
}
