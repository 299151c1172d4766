package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetStringEnvOverride(t *testing.T) {
	t.Setenv("RELAY_TARGET_URL", "https://relay.example.com/hooks")

	svc := New(nil)

	value, err := svc.GetString(context.Background(), KeyRelayTargetURL, "")
	require.NoError(t, err)
	require.Equal(t, "https://relay.example.com/hooks", value)
}

func TestGetBool(t *testing.T) {
	svc := New(nil)
	ctx := context.Background()

	cases := []struct {
		raw  string
		want bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"false", false},
		{"0", false},
		{"yes", false},
	}

	for _, tc := range cases {
		t.Setenv("RELAY_ENABLED", tc.raw)

		got, err := svc.GetBool(ctx, KeyRelayEnabled, true)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "value %q", tc.raw)
	}
}
