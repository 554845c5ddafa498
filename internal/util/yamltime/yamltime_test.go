package yamltime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDurationUnmarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr string
	}{
		{name: "seconds", input: `"30s"`, want: 30 * time.Second},
		{name: "milliseconds", input: `"250ms"`, want: 250 * time.Millisecond},
		{name: "compound", input: `"1h30m"`, want: 90 * time.Minute},
		{name: "zero", input: `"0s"`, want: 0},
		{name: "unquoted", input: `5m`, want: 5 * time.Minute},
		{name: "bare number", input: `10`, wantErr: "invalid duration"},
		{name: "garbage", input: `"fast"`, wantErr: "invalid duration"},
		{name: "negative", input: `"-5s"`, wantErr: "must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var d Duration
			err := yaml.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Std())
		})
	}
}

func TestDurationMarshal(t *testing.T) {
	t.Parallel()

	out, err := yaml.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, "1m30s\n", string(out))
}

func TestDurationInStruct(t *testing.T) {
	t.Parallel()

	type wrapper struct {
		Timeout Duration `yaml:"timeout"`
	}

	var w wrapper
	require.NoError(t, yaml.Unmarshal([]byte("timeout: 45s\n"), &w))
	assert.Equal(t, 45*time.Second, w.Timeout.Std())

	out, err := yaml.Marshal(w)
	require.NoError(t, err)
	assert.Equal(t, "timeout: 45s\n", string(out))
}
