package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{in: "", want: zerolog.InfoLevel},
		{in: "DEBUG", want: zerolog.DebugLevel},
		{in: " warn ", want: zerolog.WarnLevel},
		{in: "verbose", want: zerolog.InfoLevel, wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, tc.wantErr, err != nil, tc.in)
	}
}

func TestForObject(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	log := ForObject("runs/a.csv", "src", "dir/a.bin")
	log.Info().Msg("copied")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "runs/a.csv", entry["manifest_file"])
	assert.Equal(t, "src", entry["source_bucket"])
	assert.Equal(t, "dir/a.bin", entry["source_object_path"])
	assert.Equal(t, "copied", entry["message"])
	assert.Contains(t, entry, "hostname")
}
