package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/errors"
)

const sampleYAML = `
local:
  driver: sqlite
  path: /var/lib/catsync/catsync.db
remote:
  url: https://catalog.example.com/v1
  api_key: secret
  page_size: 50
  rate_limit: 2
  timeout: 5s
lock_dir: /var/run/catsync
schedule:
  interval: 30m
bindings:
  - kind: room
    catalog: rooms-catalog
  - kind: Label
    catalog: labels
`

func loadYAML(t *testing.T, content string) *viper.Viper {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	return v
}

func TestLoad_FromYAML(t *testing.T) {
	s, err := Load(loadYAML(t, sampleYAML))
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, DriverSQLite, s.Local.Driver)
	assert.Equal(t, "/var/lib/catsync/catsync.db", s.Local.Path)
	assert.Equal(t, "https://catalog.example.com/v1", s.Remote.URL)
	assert.Equal(t, "secret", s.Remote.APIKey)
	assert.Equal(t, "bearer", s.Remote.AuthScheme)
	assert.Equal(t, 50, s.Remote.PageSize)
	assert.Equal(t, 2, s.Remote.RateLimit)
	assert.Equal(t, 5*time.Second, s.Remote.Timeout)
	assert.Equal(t, "/var/run/catsync", s.LockDir)
	assert.Equal(t, 30*time.Minute, s.Interval)
	assert.InDelta(t, 0.75, s.Sync.Threshold, 1e-9)
	assert.Equal(t, 8, s.Sync.Parallelism)

	assert.Equal(t, []Binding{
		{Kind: entity.KindRoom, Catalog: "rooms-catalog"},
		{Kind: entity.KindLabel, Catalog: "labels"},
	}, s.Bindings)

	b, ok := s.Binding(entity.KindLabel)
	require.True(t, ok)
	assert.Equal(t, "label/labels", b.String())

	first, ok := s.Binding("")
	require.True(t, ok)
	assert.Equal(t, entity.KindRoom, first.Kind)
}

func TestLoad_BindingsFromEnvString(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("remote.url", "http://localhost:8080")
	v.Set("bindings", "room=rooms, label=labels")

	s, err := Load(v)
	require.NoError(t, err)
	require.NoError(t, s.Validate())
	assert.Len(t, s.Bindings, 2)
	assert.Equal(t, "labels", s.Bindings[1].Catalog)
}

func TestParseBindings(t *testing.T) {
	got, err := ParseBindings("room=a,,label=b")
	require.NoError(t, err)
	assert.Equal(t, []Binding{{Kind: "room", Catalog: "a"}, {Kind: "label", Catalog: "b"}}, got)

	_, err = ParseBindings("room")
	assert.True(t, errors.IsValidationError(err))
}

func TestValidate(t *testing.T) {
	valid := func() *Settings {
		return &Settings{
			Local:    Local{Driver: DriverMemory},
			Remote:   Remote{URL: "http://localhost"},
			Sync:     Sync{Threshold: 0.75, Parallelism: 4},
			Bindings: []Binding{{Kind: entity.KindRoom, Catalog: "rooms"}},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"unknown driver", func(s *Settings) { s.Local.Driver = "postgres" }},
		{"sqlite without path", func(s *Settings) { s.Local.Driver = DriverSQLite }},
		{"missing url", func(s *Settings) { s.Remote.URL = "" }},
		{"page size too big", func(s *Settings) { s.Remote.PageSize = 5000 }},
		{"negative rate", func(s *Settings) { s.Remote.RateLimit = -1 }},
		{"negative timeout", func(s *Settings) { s.Remote.Timeout = -time.Second }},
		{"zero threshold", func(s *Settings) { s.Sync.Threshold = 0 }},
		{"threshold above one", func(s *Settings) { s.Sync.Threshold = 1.5 }},
		{"no parallelism", func(s *Settings) { s.Sync.Parallelism = 0 }},
		{"interval too short", func(s *Settings) { s.Interval = time.Second }},
		{"no bindings", func(s *Settings) { s.Bindings = nil }},
		{"unknown kind", func(s *Settings) { s.Bindings[0].Kind = "venue" }},
		{"missing catalog", func(s *Settings) { s.Bindings[0].Catalog = "" }},
		{"duplicate binding", func(s *Settings) { s.Bindings = append(s.Bindings, s.Bindings[0]) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err), "got %v", err)
		})
	}
}
