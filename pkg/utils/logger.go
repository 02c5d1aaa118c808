package utils

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// Logger: уровневый логгер с printf-API поверх zap
type Logger struct {
	level  LogLevel
	logger *zap.SugaredLogger
}

var defaultLogger *Logger

func init() {
	defaultLogger = NewLogger("info")
}

func parseLevel(levelStr string) LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger создает логгер, пишущий в stdout
func NewLogger(levelStr string) *Logger {
	return NewLoggerWithDir(levelStr, "")
}

// NewLoggerWithDir дополнительно пишет JSON-лог с ротацией в logDir (если задан)
func NewLoggerWithDir(levelStr, logDir string) *Logger {
	level := parseLevel(levelStr)

	consoleConfig := zap.NewDevelopmentEncoderConfig()
	consoleConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	consoleConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	consoleConfig.EncodeCaller = nil
	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleConfig),
			zapcore.AddSync(os.Stdout),
			level.zapLevel(),
		),
	}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err == nil {
			fileConfig := zap.NewProductionEncoderConfig()
			fileConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			cores = append(cores, zapcore.NewCore(
				zapcore.NewJSONEncoder(fileConfig),
				zapcore.AddSync(&lumberjack.Logger{
					Filename:   filepath.Join(logDir, "trader.json"),
					MaxSize:    10,
					MaxBackups: 30,
					MaxAge:     30,
					Compress:   true,
				}),
				zapcore.InfoLevel,
			))
		}
	}

	return &Logger{
		level:  level,
		logger: zap.New(zapcore.NewTee(cores...)).Sugar(),
	}
}

// NewNopLogger возвращает логгер, который ничего не пишет (для тестов)
func NewNopLogger() *Logger {
	return &Logger{level: ERROR + 1, logger: zap.NewNop().Sugar()}
}

// With возвращает логгер с дополнительным полем module
func (l *Logger) With(module string) *Logger {
	return &Logger{level: l.level, logger: l.logger.With("module", module)}
}

func (l *Logger) Debug(format string, v ...interface{}) {
	if l.level <= DEBUG {
		l.logger.Debugf(format, v...)
	}
}

func (l *Logger) Info(format string, v ...interface{}) {
	if l.level <= INFO {
		l.logger.Infof(format, v...)
	}
}

func (l *Logger) Warn(format string, v ...interface{}) {
	if l.level <= WARN {
		l.logger.Warnf(format, v...)
	}
}

func (l *Logger) Error(format string, v ...interface{}) {
	if l.level <= ERROR {
		l.logger.Errorf(format, v...)
	}
}

// Sync сбрасывает буферы (вызывать перед выходом)
func (l *Logger) Sync() {
	_ = l.logger.Sync()
}

// Global logging functions
func LogDebug(msg string) {
	defaultLogger.Debug("%s", msg)
}

func LogInfo(msg string) {
	defaultLogger.Info("%s", msg)
}

func LogWarn(msg string) {
	defaultLogger.Warn("%s", msg)
}

func LogError(msg string) {
	defaultLogger.Error("%s", msg)
}
