package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tallybook/tallybook/internal/config"
)

const (
	DefaultLogFileName = "tallybook.log"
	DefaultMaxSizeMB   = 10
	DefaultMaxBackups  = 3
	DefaultMaxAgeDays  = 30
	DefaultCompress    = true

	timeFormat = "2006-01-02 15:04:05"
)

// Console configures console-only logging. It is used before the store is open.
func Console(level string) {
	applyLevel(level)
	log.Logger = zerolog.New(consoleWriter(os.Stderr)).With().Timestamp().Logger()
}

// Apply sets the global log level and output writers (console + rotating file).
// Rotation limits are read from loader when it is non-nil; logFilePath defaults to
// DefaultLogFileName in the working directory.
func Apply(level string, loader *config.Loader, logFilePath string) io.Closer {
	applyLevel(level)
	return applyOutputs(loader, logFilePath)
}

// LevelFromVerbosity maps the -v counter onto a level name.
func LevelFromVerbosity(verbosity int, fallback string) string {
	switch {
	case verbosity >= 2:
		return "trace"
	case verbosity == 1:
		return "debug"
	default:
		return fallback
	}
}

func applyLevel(level string) {
	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
}

func applyOutputs(loader *config.Loader, logFilePath string) io.Closer {
	maxSize := DefaultMaxSizeMB
	maxBackups := DefaultMaxBackups
	maxAgeDays := DefaultMaxAgeDays
	compress := DefaultCompress

	if loader != nil {
		if val := loader.Int("log.max_size_mb", DefaultMaxSizeMB); val > 0 {
			maxSize = val
		}
		if val := loader.Int("log.max_backups", DefaultMaxBackups); val >= 0 {
			maxBackups = val
		}
		if val := loader.Int("log.max_age_days", DefaultMaxAgeDays); val >= 0 {
			maxAgeDays = val
		}
		compress = loader.Bool("log.compress", DefaultCompress)
	}

	if logFilePath == "" {
		logFilePath = DefaultLogFileName
	}

	console := consoleWriter(os.Stderr)
	log.Logger = zerolog.New(console).With().Timestamp().Logger()

	if err := ensureLogDir(logFilePath); err != nil {
		log.Error().Err(err).Str("path", logFilePath).Msg("Failed to prepare log directory; logging to console only")
		return io.NopCloser(nil)
	}

	fileWriter := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   compress,
	}

	fileConsole := zerolog.ConsoleWriter{
		Out:        fileWriter,
		TimeFormat: timeFormat,
		NoColor:    true,
	}

	multi := zerolog.MultiLevelWriter(console, fileConsole)
	log.Logger = zerolog.New(multi).With().Timestamp().Logger()
	return fileWriter
}

// FilePathForDB returns a log file path that lives alongside the database file.
func FilePathForDB(dbPath string) string {
	if dbPath == "" {
		return DefaultLogFileName
	}
	absDBPath, err := filepath.Abs(dbPath)
	if err != nil {
		return filepath.Join(filepath.Dir(dbPath), DefaultLogFileName)
	}
	return filepath.Join(filepath.Dir(absDBPath), DefaultLogFileName)
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
