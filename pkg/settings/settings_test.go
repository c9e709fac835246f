package settings

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	s := Default()

	assert.Equal(t, "Energino", s.Magic)
	assert.Equal(t, 1, s.Revision)
	assert.Equal(t, 2000, s.Period)
	assert.Equal(t, 100, s.R1)
	assert.Equal(t, 10, s.R2)
	assert.Equal(t, 2500, s.Offset)
	assert.Equal(t, 185, s.Sensitivity)
	assert.Equal(t, 2, s.RelayPin)
	assert.Equal(t, 0, s.CurrentPin)
	assert.Equal(t, 1, s.VoltagePin)
	assert.Empty(t, s.APIKey)
	assert.Empty(t, s.FeedsURL)
	assert.Zero(t, s.FeedID)

	require.NoError(t, s.Validate())
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "shorter than cap", in: "abc", max: 5, want: "abc"},
		{name: "exactly cap", in: "abcde", max: 5, want: "abcde"},
		{name: "over cap", in: "abcdef", max: 5, want: "abcde"},
		{name: "empty", in: "", max: 5, want: ""},
		{name: "zero cap", in: "abc", max: 0, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in, tt.max))
		})
	}
}

func TestSetAPIKey_TruncatesToCapacity(t *testing.T) {
	var s Settings
	long := strings.Repeat("k", 70)

	s.SetAPIKey(long)

	assert.Len(t, s.APIKey, APIKeyLen)
	assert.Equal(t, long[:APIKeyLen], s.APIKey)
}

func TestSetFeedsURL_TruncatesToCapacity(t *testing.T) {
	var s Settings
	long := "http://api.cosm.com/v2/feeds/" + strings.Repeat("x", 60)

	s.SetFeedsURL(long)

	assert.Len(t, s.FeedsURL, FeedsURLLen)
	assert.Equal(t, long[:FeedsURLLen], s.FeedsURL)
}

func TestSetMagic_TruncatesToCapacity(t *testing.T) {
	var s Settings

	s.SetMagic("EnerginoEthernet")

	assert.Len(t, s.Magic, MagicLen)
	assert.Equal(t, "EnerginoEth", s.Magic)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{name: "defaults", mutate: func(s *Settings) {}, wantErr: false},
		{name: "zero r1 allowed", mutate: func(s *Settings) { s.R1 = 0 }, wantErr: false},
		{name: "zero period allowed", mutate: func(s *Settings) { s.Period = 0 }, wantErr: false},
		{name: "zero offset allowed", mutate: func(s *Settings) { s.Offset = 0 }, wantErr: false},
		{name: "negative period", mutate: func(s *Settings) { s.Period = -1 }, wantErr: true},
		{name: "negative r1", mutate: func(s *Settings) { s.R1 = -10 }, wantErr: true},
		{name: "zero r2", mutate: func(s *Settings) { s.R2 = 0 }, wantErr: true},
		{name: "negative r2", mutate: func(s *Settings) { s.R2 = -5 }, wantErr: true},
		{name: "negative offset", mutate: func(s *Settings) { s.Offset = -1 }, wantErr: true},
		{name: "zero sensitivity", mutate: func(s *Settings) { s.Sensitivity = 0 }, wantErr: true},
		{name: "negative pin", mutate: func(s *Settings) { s.RelayPin = -2 }, wantErr: true},
		{name: "magic too long", mutate: func(s *Settings) { s.Magic = strings.Repeat("m", MagicLen+1) }, wantErr: true},
		{name: "apikey too long", mutate: func(s *Settings) { s.APIKey = strings.Repeat("k", APIKeyLen+1) }, wantErr: true},
		{name: "feedsurl too long", mutate: func(s *Settings) { s.FeedsURL = strings.Repeat("u", FeedsURLLen+1) }, wantErr: true},
		{name: "max length strings", mutate: func(s *Settings) {
			s.Magic = strings.Repeat("m", MagicLen)
			s.APIKey = strings.Repeat("k", APIKeyLen)
			s.FeedsURL = strings.Repeat("u", FeedsURLLen)
		}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(&s)

			err := s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDump_FixedOrder(t *testing.T) {
	s := Default()
	s.APIKey = "secret-key"
	s.FeedsURL = "http://api.cosm.com/v2/feeds"
	s.FeedID = 42

	var buf bytes.Buffer
	require.NoError(t, s.Dump(&buf))

	want := "@magic: Energino\n" +
		"@revision: 1\n" +
		"@period: 2000 ms\n" +
		"@r1: 100 Kohm\n" +
		"@r2: 10 Kohm\n" +
		"@offset: 2500 mV\n" +
		"@sensitivity: 185 mV/A\n" +
		"@relaypin: 2\n" +
		"@currentpin: 0\n" +
		"@voltagepin: 1\n"
	assert.Equal(t, want, buf.String())

	// Credentials never appear in the operator listing.
	assert.NotContains(t, buf.String(), "secret-key")
	assert.NotContains(t, buf.String(), "cosm")
	assert.NotContains(t, buf.String(), "42")
}
