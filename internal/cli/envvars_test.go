package cli

import (
	"flag"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFlagSet() (*flag.FlagSet, *string, *int) {
	flags := flag.NewFlagSet("test", flag.ContinueOnError)
	serverURL := flags.String("server-url", "http://localhost:8000", "server")
	frameSize := flags.Int("frame-size", 4096, "frame size")
	return flags, serverURL, frameSize
}

func TestParseFlagsWithEnv(t *testing.T) {
	for _, tc := range []struct {
		name      string
		args      []string
		env       []string
		serverURL string
		frameSize int
		err       bool
	}{
		{
			name:      "defaults",
			serverURL: "http://localhost:8000",
			frameSize: 4096,
		},
		{
			name:      "env var",
			env:       []string{"VOICECHAT_SERVER_URL=https://example.org", "HOME=/root"},
			serverURL: "https://example.org",
			frameSize: 4096,
		},
		{
			name:      "flag overrides env var",
			args:      []string{"-frame-size", "1024"},
			env:       []string{"VOICECHAT_FRAME_SIZE=2048"},
			serverURL: "http://localhost:8000",
			frameSize: 1024,
		},
		{
			name: "unsupported env var",
			env:  []string{"VOICECHAT_UNKNOWN=1"},
			err:  true,
		},
		{
			name: "invalid env var value",
			env:  []string{"VOICECHAT_FRAME_SIZE=large"},
			err:  true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			flags, serverURL, frameSize := newTestFlagSet()

			err := parseFlagsWithEnv(flags, "VOICECHAT_", tc.args, tc.env)
			if tc.err {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.serverURL, *serverURL, "server-url")
			require.Equal(t, tc.frameSize, *frameSize, "frame-size")
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("warn")
	require.NoError(t, err)
	require.Equal(t, slog.LevelWarn, level)

	_, err = ParseLogLevel("verbose")
	require.Error(t, err)
}

func TestEnvVarName(t *testing.T) {
	require.Equal(t, "VOICECHAT_LOG_LEVEL", EnvVarName("VOICECHAT_", "log-level"))
}
