// Package config parses the engine's key=value configuration file (spec
// section 6's file system layout) with bufio.Scanner, the same flat
// line-oriented format convention the teacher uses for its own plain-text
// assets rather than reaching for a structured format library.
package config

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/dnaerr"
)

// LogLevel mirrors the log_level config key's allowed values.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelNone  LogLevel = "NONE"
)

// Config holds every recognized key, each defaulted per spec section 6.
type Config struct {
	BootstrapNodes       []string
	LogLevel             LogLevel
	LogTags              string
	MessageQueueCapacity int
	PresenceRefresh      time.Duration
	InboxPoll            time.Duration
	SpillwayTTL          time.Duration
	SendDeadlineDirect   time.Duration
	SendDeadlineICE      time.Duration
}

// Default returns the configuration the engine runs with when no config
// file is present.
func Default() Config {
	return Config{
		LogLevel:             LogLevelInfo,
		MessageQueueCapacity: 20,
		PresenceRefresh:      300 * time.Second,
		InboxPoll:            120 * time.Second,
		SpillwayTTL:          7 * 86400 * time.Second,
		SendDeadlineDirect:   800 * time.Millisecond,
		SendDeadlineICE:      3 * time.Second,
	}
}

// Parse reads a key=value configuration stream, starting from Default and
// overriding only the keys present. Blank lines and lines starting with
// '#' are ignored.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Config{}, dnaerr.New(dnaerr.KindStorage, "config.Parse", "malformed line, expected key=value: "+line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if err := cfg.apply(key, value); err != nil {
			return Config{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, dnaerr.Storage("config.Parse", err)
	}
	return cfg, nil
}

func (c *Config) apply(key, value string) error {
	logger := logrus.WithFields(logrus.Fields{"function": "Config.apply", "package": "config", "key": key})

	switch key {
	case "bootstrap_nodes":
		if value == "" {
			c.BootstrapNodes = nil
			return nil
		}
		c.BootstrapNodes = strings.Split(value, ",")
	case "log_level":
		level := LogLevel(strings.ToUpper(value))
		switch level {
		case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelNone:
			c.LogLevel = level
		default:
			return dnaerr.New(dnaerr.KindStorage, "config.apply", "invalid log_level: "+value)
		}
	case "log_tags":
		c.LogTags = value
	case "message_queue_capacity":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > 100 {
			return dnaerr.New(dnaerr.KindStorage, "config.apply", "message_queue_capacity must be 1-100")
		}
		c.MessageQueueCapacity = n
	case "presence_refresh_secs":
		d, err := parseSeconds(value)
		if err != nil {
			return err
		}
		c.PresenceRefresh = d
	case "inbox_poll_secs":
		d, err := parseSeconds(value)
		if err != nil {
			return err
		}
		c.InboxPoll = d
	case "spillway_ttl_secs":
		d, err := parseSeconds(value)
		if err != nil {
			return err
		}
		c.SpillwayTTL = d
	case "send_deadline_direct_ms":
		d, err := parseMillis(value)
		if err != nil {
			return err
		}
		c.SendDeadlineDirect = d
	case "send_deadline_ice_ms":
		d, err := parseMillis(value)
		if err != nil {
			return err
		}
		c.SendDeadlineICE = d
	default:
		logger.Warn("unrecognized configuration key, ignoring")
	}
	return nil
}

func parseSeconds(value string) (time.Duration, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, dnaerr.New(dnaerr.KindStorage, "config.parseSeconds", "expected a non-negative integer, got: "+value)
	}
	return time.Duration(n) * time.Second, nil
}

func parseMillis(value string) (time.Duration, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, dnaerr.New(dnaerr.KindStorage, "config.parseMillis", "expected a non-negative integer, got: "+value)
	}
	return time.Duration(n) * time.Millisecond, nil
}
