package config

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tri2820/backend/indexer/internal/model"
)

// Recognized environment overrides
const (
	EnvSubscribedEvents = "SUBSCRIBED_EVENTS" // comma-separated event names
	EnvMaxLatencyMS     = "MAX_LATENCY_MS"    // integer milliseconds
)

// Resolve merges environment overrides over the static worker config.
// The merge is shallow: an override replaces the whole field. Unparseable
// overrides are skipped and returned as warnings.
func Resolve(static model.WorkerConfig, env Environment) (model.WorkerConfig, []error) {
	out := static.Clone()
	if env == nil {
		return out, nil
	}

	var warnings []error

	if raw, ok := env.Lookup(EnvSubscribedEvents); ok {
		out.SubscribedEvents = parseEventSet(raw)
	}

	if raw, ok := env.Lookup(EnvMaxLatencyMS); ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Errorf("ignoring %s=%q: %w", EnvMaxLatencyMS, raw, err))
		case n < 0:
			warnings = append(warnings, fmt.Errorf("ignoring %s=%q: must not be negative", EnvMaxLatencyMS, raw))
		default:
			out.MaxLatencyMS = &n
		}
	}

	return out, warnings
}

// parseEventSet splits a comma list into an ordered set of names
func parseEventSet(raw string) []string {
	events := []string{}
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		events = append(events, name)
	}
	return events
}

// Source resolves a fresh WorkerConfig on every call so edits to the
// environment or the .env files take effect on the next connection.
type Source struct {
	Static   model.WorkerConfig
	EnvFiles []string
	Env      Environment // defaults to the process environment
	Logger   *zap.SugaredLogger
}

// WorkerConfig implements ws.ConfigSource
func (s *Source) WorkerConfig() model.WorkerConfig {
	env := s.Env
	if env == nil {
		env = OSEnvironment{}
	}

	if len(s.EnvFiles) > 0 {
		fileEnv, err := ReadDotEnv(s.EnvFiles...)
		if err != nil {
			s.warn(err)
		} else {
			env = Layered(env, fileEnv)
		}
	}

	cfg, warnings := Resolve(s.Static, env)
	for _, w := range warnings {
		s.warn(w)
	}
	return cfg
}

func (s *Source) warn(err error) {
	if s.Logger != nil {
		s.Logger.Warnf("%v", err)
	}
}
