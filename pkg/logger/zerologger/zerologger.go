// Package zerologger adapts github.com/rs/zerolog to logger.Logger.
package zerologger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/kinesphere/resync/pkg/logger"
)

const (
	permission = 0664
)

type LogBuild struct {
	writer io.Writer
	path   string
	level  zerolog.Level
}

// LogData is a logger.Logger writing JSON lines through zerolog.
// LogFile is set when the builder was given a path and must be closed by the caller.
type LogData struct {
	LogFile *os.File
	Logger  zerolog.Logger
}

var _ logger.Logger = (*LogData)(nil)

func New() *LogBuild {
	return &LogBuild{level: zerolog.InfoLevel}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

// WithLevel sets the minimum level from a config name such as "debug" or "warn".
// Unknown names keep the current level.
func (build *LogBuild) WithLevel(level string) *LogBuild {
	if lvl, err := zerolog.ParseLevel(level); err == nil && level != "" {
		build.level = lvl
	}
	return build
}

func (build *LogBuild) Make() (logData *LogData, err error) {
	logData = new(LogData)
	writer := build.writer
	if writer == nil {
		writer = os.Stdout
	}
	if build.path != "" {
		logData.LogFile, err = os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, fmt.Errorf("zerologger failed to open %s: %w", build.path, err)
		}
		writer = zerolog.SyncWriter(logData.LogFile)
	}
	logData.Logger = zerolog.New(writer).Level(build.level).With().Timestamp().Logger()
	return logData, nil
}

func (l *LogData) Error(msg string, args ...any) {
	l.Logger.Error().Fields(args).Msg(msg)
}

func (l *LogData) Warn(msg string, args ...any) {
	l.Logger.Warn().Fields(args).Msg(msg)
}

func (l *LogData) Info(msg string, args ...any) {
	l.Logger.Info().Fields(args).Msg(msg)
}

func (l *LogData) Debug(msg string, args ...any) {
	l.Logger.Debug().Fields(args).Msg(msg)
}

// Close closes the log file, if any.
func (l *LogData) Close() error {
	if l.LogFile == nil {
		return nil
	}
	return l.LogFile.Close()
}
