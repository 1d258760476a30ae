package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campuslink/confcore/pkg/config"
)

type testStruct struct {
	configFileName string
	configBody     string

	expectedError      error
	expectedConfigBody string
}

func TestGetConfigString(t *testing.T) {
	tests := []testStruct{
		{"", "", nil, ""},
		{"", "configBody", nil, "configBody"},
		{"file", "configBody", nil, "configBody"},
		{"file", "", nil, "fileContent"},
	}
	for _, test := range tests {
		func() {
			writeConfigFile(test, t)
			defer os.Remove(test.configFileName)

			configBody, err := getConfigString(test.configFileName, test.configBody)
			require.Equal(t, test.expectedError, err)
			require.Equal(t, test.expectedConfigBody, configBody)
		}()
	}
}

func TestShouldReturnErrorIfConfigFileDoesNotExist(t *testing.T) {
	configBody, err := getConfigString("notExistingFile", "")
	require.Error(t, err)
	require.Empty(t, configBody)
}

func writeConfigFile(test testStruct, t *testing.T) {
	if test.configFileName != "" {
		d1 := []byte(test.expectedConfigBody)
		err := os.WriteFile(test.configFileName, d1, 0o644)
		require.NoError(t, err)
	}
}

func TestRenderMedia(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "mic.ogg")
	require.NoError(t, os.WriteFile(audio, make([]byte, 2048), 0o644))

	conf, err := config.NewConfig("", true, nil, nil)
	require.NoError(t, err)
	conf.Media.AudioFile = audio
	conf.Media.PublishVideo = false

	var buf bytes.Buffer
	require.NoError(t, renderMedia(&buf, conf))
	out := buf.String()
	require.Contains(t, out, "mic.ogg")
	require.Contains(t, out, "2.0 kB")
	require.Contains(t, out, "silence")
	require.Contains(t, out, "10 publishers at 512 kbps")

	conf.Media.VideoFile = filepath.Join(dir, "missing.ivf")
	require.Error(t, renderMedia(&bytes.Buffer{}, conf))
}
