package config

import (
	"fmt"
	"slices"
	"strings"
)

// Drivers lists the supported store drivers.
var Drivers = []string{"memory", "sqlite", "postgres", "redis", "bolt"}

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidationErrors when
// anything is wrong.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if !slices.Contains([]string{"debug", "info", "warn", "warning", "error"}, strings.ToLower(c.Log.Level)) {
		add("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	if !slices.Contains([]string{"auto", "text", "json"}, strings.ToLower(c.Log.Format)) {
		add("log.format", c.Log.Format, "must be auto, text or json")
	}

	if !slices.Contains(Drivers, c.Store.Driver) {
		add("store.driver", c.Store.Driver, "must be one of "+strings.Join(Drivers, ", "))
	} else if c.Store.Driver != "memory" && c.Store.DSN == "" {
		add("store.dsn", c.Store.DSN, "required for driver "+c.Store.Driver)
	}

	if c.Worker.LockExpiry <= 0 {
		add("worker.lock_expiry", c.Worker.LockExpiry, "must be positive")
	}
	if c.Worker.PollInterval <= 0 {
		add("worker.poll_interval", c.Worker.PollInterval, "must be positive")
	}
	if c.Worker.Concurrency < 1 {
		add("worker.concurrency", c.Worker.Concurrency, "must be at least 1")
	}

	if c.Callback.Addr == "" {
		add("callback.addr", c.Callback.Addr, "must not be empty")
	}

	if c.Partner.Timeout <= 0 {
		add("partner.timeout", c.Partner.Timeout, "must be positive")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
