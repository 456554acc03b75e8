// Package util provides logging, host inspection and credential helpers
// shared across the Yume server.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxBackups: 5,
		Console:    true,
	}
}

// InitLogger points the zerolog global logger at a daily JSON file and,
// optionally, a human-readable console writer.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	logFilePath := filepath.Join(cfg.Directory, fmt.Sprintf("yume_%s.log", time.Now().Format("2006-01-02")))
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	writers := []io.Writer{logFile}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "yume").
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	go cleanOldLogs(cfg.Directory, cfg.MaxBackups)

	return nil
}

// cleanOldLogs keeps the newest maxBackups log files and removes the rest.
func cleanOldLogs(directory string, maxBackups int) {
	if maxBackups <= 0 {
		return
	}

	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}

	type logFile struct {
		path    string
		modTime time.Time
	}
	var files []logFile
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{path: filepath.Join(directory, entry.Name()), modTime: info.ModTime()})
	}

	if len(files) <= maxBackups {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	for _, f := range files[:len(files)-maxBackups] {
		if err := os.Remove(f.path); err == nil {
			log.Debug().Str("file", f.path).Msg("removed old log file")
		}
	}
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
