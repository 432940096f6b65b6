package main

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	configBaseName = ".sprout"
	configFileName = configBaseName + ".yaml"

	envPrefix = "SPROUT"

	dbKey       = "db"
	formatKey   = "format"
	rootKey     = "root"
	workersKey  = "workers"
	cacheKey    = "cache_size"
	debounceKey = "watch.debounce"

	logFilenameKey   = "log.filename"
	logLevelKey      = "log.level"
	logVerboseKey    = "log.verbose"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	defaultFormat   = "json"
	defaultWorkers  = 0
	defaultCache    = 1024
	defaultDebounce = 200 * time.Millisecond

	defaultLogFilename   = ".sprout/sprout.log"
	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28
	defaultLogCompress   = true
)

// setDefaults installs every default on v.
func setDefaults(v *viper.Viper) {
	v.SetDefault(dbKey, "")
	v.SetDefault(formatKey, defaultFormat)
	v.SetDefault(rootKey, ".")
	v.SetDefault(workersKey, defaultWorkers)
	v.SetDefault(cacheKey, defaultCache)
	v.SetDefault(debounceKey, defaultDebounce)

	v.SetDefault(logFilenameKey, defaultLogFilename)
	v.SetDefault(logLevelKey, "info")
	v.SetDefault(logVerboseKey, false)
	v.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	v.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
	v.SetDefault(logMaxAgeKey, defaultLogMaxAge)
	v.SetDefault(logCompressKey, defaultLogCompress)
}

// loadConfig builds the configuration from, in increasing priority:
// defaults, .sprout.yaml in dir, .env, SPROUT_* environment variables and
// command-line flags. A missing config file is not an error.
func loadConfig(dir string, flags *pflag.FlagSet) (*viper.Viper, error) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	v := viper.New()
	setDefaults(v)
	v.SetConfigName(configBaseName)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if flags != nil {
		for key, name := range map[string]string{
			dbKey:          "db",
			formatKey:      "format",
			rootKey:        "root",
			workersKey:     "workers",
			logVerboseKey:  "verbose",
			logFilenameKey: "log-file",
		} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}
	return v, nil
}

func parseSlogLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	switch level {
	case "":
		return defaultLevel
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}
	return defaultLevel
}

// newLogger returns a logger writing to a rotating file below base. With
// verbose set it logs at debug level. The returned closer flushes the file.
func newLogger(v *viper.Viper, base string) (*slog.Logger, io.Closer) {
	logPath := strings.TrimSpace(v.GetString(logFilenameKey))
	if logPath == "" {
		logPath = defaultLogFilename
	}
	if !filepath.IsAbs(logPath) {
		logPath = filepath.Join(base, logPath)
	}

	level := parseSlogLevel(v.GetString(logLevelKey), slog.LevelInfo)
	if v.GetBool(logVerboseKey) {
		level = slog.LevelDebug
	}

	w := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    v.GetInt(logMaxSizeKey),
		MaxBackups: v.GetInt(logMaxBackupsKey),
		MaxAge:     v.GetInt(logMaxAgeKey),
		Compress:   v.GetBool(logCompressKey),
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler), w
}
