package decode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name    string        `json:"name"`
	Port    int           `json:"port"`
	Enabled bool          `json:"enabled"`
	TTL     time.Duration `json:"ttl"`
	Servers []string      `json:"servers"`
	IDs     []string      `json:"ids"`
}

func TestMapWeaklyTyped(t *testing.T) {
	out, err := Map[sample](map[string]any{
		"name":    "relay",
		"port":    "8080",
		"enabled": "true",
		"ttl":     "5m",
		"servers": "nats://a:4222, nats://b:4222",
		"ids":     []any{"m1", "m2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "relay", out.Name)
	assert.Equal(t, 8080, out.Port)
	assert.True(t, out.Enabled)
	assert.Equal(t, 5*time.Minute, out.TTL)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, out.Servers)
	assert.Equal(t, []string{"m1", "m2"}, out.IDs)
}

func TestIntoKeepsDefaults(t *testing.T) {
	s := sample{Name: "default", Port: 1}
	require.NoError(t, Into(map[string]any{"port": 9090}, &s))
	assert.Equal(t, "default", s.Name)
	assert.Equal(t, 9090, s.Port)
}

func TestJSON(t *testing.T) {
	out, err := JSON[sample]([]byte(`{"name":"x","port":7.0}`))
	require.NoError(t, err)
	assert.Equal(t, 7, out.Port)

	_, err = JSON[sample]([]byte(`{`))
	assert.Error(t, err)
}

func TestNullSliceElementsAreSkipped(t *testing.T) {
	out, err := JSON[sample]([]byte(`{"ids":["m1",null,"m2",null]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, out.IDs)
	assert.NotContains(t, out.IDs, "<nil>")
}
