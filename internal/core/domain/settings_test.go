package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	assert.Equal(t, DefaultTokenURL, s.OAuth.TokenURL)
	assert.Equal(t, []string{DefaultScope}, s.OAuth.Scopes)
	assert.Equal(t, 30*time.Second, s.API.RequestTimeout)
	assert.Equal(t, 1000, s.API.MaxResults)
	assert.Equal(t, 5*time.Minute, s.Windows.RefreshThreshold)
	assert.Equal(t, 30*time.Second, s.Windows.StatusFreshness)
	assert.Equal(t, 30*time.Second, s.Windows.GraceWindow)
	assert.Equal(t, StorageSQLite, s.Storage.Driver)
	require.NoError(t, s.Validate())
	assert.False(t, s.HasOAuthApp())
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"unknown driver", func(s *Settings) { s.Storage.Driver = "mongo" }},
		{"postgres without dsn", func(s *Settings) { s.Storage.Driver = StoragePostgres }},
		{"redis without addr", func(s *Settings) { s.Grace.Backend = GraceRedis }},
		{"max results too large", func(s *Settings) { s.API.MaxResults = 5000 }},
		{"max results zero", func(s *Settings) { s.API.MaxResults = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}
