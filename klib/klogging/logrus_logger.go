package klogging

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xinkaiwang/goraylet/klib/kerror"
)

// LogrusLogger implements klogging.Logger, with logrus doing the formatting
// and output under the hood.
type LogrusLogger struct {
	ctx       context.Context
	RusLogger *logrus.Logger
	logLevel  Level
	logFormat LogFormat
}

const (
	// TimestampFormat: ms resolution, timezone, sorting friendly.
	TimestampFormat = "2006-01-02T15:04:05.999Z07:00"
)

func NewLogrusLogger(ctx context.Context) *LogrusLogger {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		TimestampFormat: TimestampFormat,
		FullTimestamp:   true,
	})
	// log level threshold is evaluated in the LogrusLogger layer, not here.
	// In RusLogger we just blindly accept everything.
	log.SetLevel(logrus.TraceLevel)
	return &LogrusLogger{
		ctx:       ctx,
		RusLogger: log,
		logLevel:  InfoLevel,
		logFormat: TextFormat,
	}
}

// Log format
type LogFormat uint32

const (
	TextFormat LogFormat = iota + 1
	JsonFormat
)

func (e LogFormat) String() string {
	switch e {
	case TextFormat:
		return "Text"
	case JsonFormat:
		return "Json"
	default:
		return fmt.Sprintf("%d", int(e))
	}
}

// may throw if unable to parse
func parseLogFormat(str string) LogFormat {
	if strings.EqualFold("text", str) {
		return TextFormat
	} else if strings.EqualFold("json", str) {
		return JsonFormat
	}
	panic(kerror.Create("UnknownLogFormat", "parse log format failed").With("str", str))
}

// SetConfig updates level ("fatal".."verbose") and format ("text"|"json").
// A bad value logs a warning and keeps the current config.
func (logger *LogrusLogger) SetConfig(ctx context.Context, newLevelStr string, newFormatStr string) *LogrusLogger {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				Warning(ctx).WithError(err).Log("updateLogConfigFailed", "LogConfig update failed")
			} else {
				Warning(ctx).With("err", r).Log("updateLogConfigFailed", "LogConfig update failed")
			}
		}
	}()
	newLevel := ParseLogLevel(newLevelStr)
	newFormat := parseLogFormat(newFormatStr)
	logger.logLevel = newLevel
	if newFormat != logger.logFormat {
		if newFormat == JsonFormat {
			logger.RusLogger.SetFormatter(&logrus.JSONFormatter{
				TimestampFormat: TimestampFormat,
			})
		} else {
			logger.RusLogger.SetFormatter(&logrus.TextFormatter{
				DisableColors:   true,
				TimestampFormat: TimestampFormat,
				FullTimestamp:   true,
			})
		}
		logger.logFormat = newFormat
	}
	return logger
}

func (logger *LogrusLogger) Level() Level {
	return logger.logLevel
}

func (logger *LogrusLogger) Log(entry *LogEntry, shouldLog bool) {
	if !shouldLog {
		return
	}
	fields := logrus.Fields{}
	for _, item := range entry.Details {
		fields[item.K] = item.V
	}
	fields["event"] = entry.LogType
	rusEntry := logger.RusLogger.WithFields(fields).WithTime(entry.Timestamp)
	switch entry.Level {
	case FatalLevel:
		// logrus.Fatal would os.Exit before our own OsExit hook; use Error level
		// output and let LogEntry.Log drive the exit.
		rusEntry.Error(entry.Msg)
	case ErrorLevel:
		rusEntry.Error(entry.Msg)
	case WarnLevel:
		rusEntry.Warn(entry.Msg)
	case InfoLevel:
		rusEntry.Info(entry.Msg)
	case DebugLevel:
		rusEntry.Debug(entry.Msg)
	default:
		rusEntry.Trace(entry.Msg)
	}
}
