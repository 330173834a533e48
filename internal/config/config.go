// Package config loads typed catsync settings from viper.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agentstation/catsync/pkg/constants"
	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/errors"
)

// Local store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Binding pairs a local entity kind with a remote catalog.
type Binding struct {
	Kind    entity.Kind `mapstructure:"kind" yaml:"kind" json:"kind"`
	Catalog string      `mapstructure:"catalog" yaml:"catalog" json:"catalog"`
}

// String returns "kind/catalog".
func (b Binding) String() string {
	return string(b.Kind) + "/" + b.Catalog
}

// Local configures the local store.
type Local struct {
	Driver string
	Path   string
}

// Remote configures the remote catalog API.
type Remote struct {
	URL        string
	APIKey     string
	AuthScheme string
	AuthName   string
	PageSize   int
	RateLimit  int
	Timeout    time.Duration
}

// Sync configures the engine.
type Sync struct {
	Threshold   float64
	Parallelism int
}

// Settings is the full catsync configuration.
type Settings struct {
	Local    Local
	Remote   Remote
	Sync     Sync
	LockDir  string
	Interval time.Duration
	Bindings []Binding
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("local.driver", DriverSQLite)
	v.SetDefault("local.path", "catsync.db")
	v.SetDefault("remote.auth_scheme", "bearer")
	v.SetDefault("remote.page_size", constants.DefaultPageSize)
	v.SetDefault("remote.rate_limit", constants.DefaultWriteRate)
	v.SetDefault("remote.timeout", constants.DefaultHTTPTimeout)
	v.SetDefault("sync.threshold", constants.DuplicateThreshold)
	v.SetDefault("sync.parallelism", constants.DefaultParallelism)
	v.SetDefault("schedule.interval", constants.DefaultSyncInterval)
}

// Load reads Settings from v. It does not validate them.
func Load(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		Local: Local{
			Driver: strings.ToLower(v.GetString("local.driver")),
			Path:   v.GetString("local.path"),
		},
		Remote: Remote{
			URL:        v.GetString("remote.url"),
			APIKey:     v.GetString("remote.api_key"),
			AuthScheme: v.GetString("remote.auth_scheme"),
			AuthName:   v.GetString("remote.auth_name"),
			PageSize:   v.GetInt("remote.page_size"),
			RateLimit:  v.GetInt("remote.rate_limit"),
			Timeout:    v.GetDuration("remote.timeout"),
		},
		Sync: Sync{
			Threshold:   v.GetFloat64("sync.threshold"),
			Parallelism: v.GetInt("sync.parallelism"),
		},
		LockDir:  v.GetString("lock_dir"),
		Interval: v.GetDuration("schedule.interval"),
	}

	bindings, err := loadBindings(v)
	if err != nil {
		return nil, err
	}
	s.Bindings = bindings
	return s, nil
}

// loadBindings accepts a YAML list of {kind, catalog} maps or a
// comma-separated "kind=catalog" string, as set from the environment.
func loadBindings(v *viper.Viper) ([]Binding, error) {
	raw := v.Get("bindings")
	if raw == nil {
		return nil, nil
	}
	if s, ok := raw.(string); ok {
		return ParseBindings(s)
	}

	var bindings []Binding
	if err := v.UnmarshalKey("bindings", &bindings); err != nil {
		return nil, errors.NewConfigError("bindings", "expected a list of {kind, catalog}", err)
	}
	return bindings, nil
}

// ParseBindings parses "room=rooms,label=labels".
func ParseBindings(s string) ([]Binding, error) {
	var out []Binding
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, catalog, ok := strings.Cut(part, "=")
		if !ok {
			return nil, errors.NewValidationError("bindings", part, "expected kind=catalog")
		}
		out = append(out, Binding{
			Kind:    entity.Kind(strings.TrimSpace(kind)),
			Catalog: strings.TrimSpace(catalog),
		})
	}
	return out, nil
}

// Validate checks the settings for anything the engine or transport would
// reject later. Binding kinds are normalized in place.
func (s *Settings) Validate() error {
	switch s.Local.Driver {
	case DriverSQLite:
		if s.Local.Path == "" {
			return errors.NewValidationError("local.path", s.Local.Path, "required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return errors.NewValidationError("local.driver", s.Local.Driver, "must be sqlite or memory")
	}

	if s.Remote.URL == "" {
		return errors.NewConfigError("remote", "remote.url is required", nil)
	}
	if s.Remote.PageSize < 0 || s.Remote.PageSize > constants.MaxPageSize {
		return errors.NewValidationError("remote.page_size", s.Remote.PageSize, "must be between 0 and 1000")
	}
	if s.Remote.RateLimit < 0 {
		return errors.NewValidationError("remote.rate_limit", s.Remote.RateLimit, "must not be negative")
	}
	if s.Remote.Timeout < 0 {
		return errors.NewValidationError("remote.timeout", s.Remote.Timeout, "must not be negative")
	}

	if s.Sync.Threshold <= 0 || s.Sync.Threshold > 1 {
		return errors.NewValidationError("sync.threshold", s.Sync.Threshold, "must be in (0, 1]")
	}
	if s.Sync.Parallelism < 1 {
		return errors.NewValidationError("sync.parallelism", s.Sync.Parallelism, "must be at least 1")
	}
	if s.Interval != 0 && s.Interval < constants.MinSyncInterval {
		return errors.NewValidationError("schedule.interval", s.Interval, "must be at least "+constants.MinSyncInterval.String())
	}

	if len(s.Bindings) == 0 {
		return errors.NewConfigError("bindings", "at least one kind/catalog binding is required", nil)
	}
	seen := make(map[string]bool, len(s.Bindings))
	for i, b := range s.Bindings {
		kind, err := entity.ParseKind(string(b.Kind))
		if err != nil {
			return errors.NewConfigError("bindings", "unknown kind "+string(b.Kind), err)
		}
		b.Kind = kind
		s.Bindings[i] = b
		if b.Catalog == "" {
			return errors.NewValidationError("bindings", b.String(), "catalog is required")
		}
		if seen[b.String()] {
			return errors.NewValidationError("bindings", b.String(), "duplicate binding")
		}
		seen[b.String()] = true
	}
	return nil
}

// Binding returns the configured binding for kind, or the first binding
// when kind is empty.
func (s *Settings) Binding(kind entity.Kind) (Binding, bool) {
	for _, b := range s.Bindings {
		if kind == "" || b.Kind == kind {
			return b, true
		}
	}
	return Binding{}, false
}
