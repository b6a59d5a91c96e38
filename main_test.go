package main_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongomigrate/mongomigrate/errors"
)

// errCommandTimeout is returned when the command execution times out.
var errCommandTimeout = errors.New("command timed out")

// binaryPath holds the path to the compiled mongomigrate binary.
//
//nolint:gochecknoglobals
var binaryPath string

// TestMain builds the binary once before running all tests.
func TestMain(m *testing.M) {
	code := runTestMain(m)
	os.Exit(code)
}

func runTestMain(m *testing.M) int {
	tmpDir, err := os.MkdirTemp("", "mongomigrate-cli-test")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)

		return 1
	}
	defer os.RemoveAll(tmpDir)

	binaryPath = filepath.Join(tmpDir, "mongomigrate")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "build", "-race", "-o", binaryPath, ".")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err = cmd.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build binary: %v\n", err)

		return 1
	}

	return m.Run()
}

func runCLI(t *testing.T, args []string, env map[string]string) (string, string, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, binaryPath, args...)

	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stdout.String(), stderr.String(), errCommandTimeout
	}

	return stdout.String(), stderr.String(), err
}

const (
	sourceURI = "mongodb://127.0.0.1:1/app"
	targetURI = "mongodb://127.0.0.1:2/app_copy"
)

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	stdout, stderr, err := runCLI(t, []string{"version"}, nil)
	require.NoError(t, err, "stderr: %s", stderr)

	assert.Contains(t, stdout+stderr, "Version:")
	assert.Contains(t, stdout+stderr, "GoVersion:")
}

func TestMigrateCommandErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		args           []string
		env            map[string]string
		expectedOutput string
	}{
		{
			name:           "missing uris",
			args:           []string{"migrate", "--mode", "newOnly"},
			expectedOutput: "source URI and target URI are empty",
		},
		{
			name:           "identical uris",
			args:           []string{"migrate", "--source", sourceURI, "--target", sourceURI, "--yes"},
			expectedOutput: "source URI and target URI are identical",
		},
		{
			name:           "complete without confirmation",
			args:           []string{"migrate", "--source", sourceURI, "--target", targetURI},
			expectedOutput: "--yes",
		},
		{
			name:           "unknown mode",
			args:           []string{"migrate", "--source", sourceURI, "--target", targetURI, "--mode", "merge"},
			expectedOutput: "unknown migration mode",
		},
		{
			name:           "invalid source",
			args:           []string{"migrate", "--source", "notaurl", "--target", targetURI, "--mode", "newOnly"},
			expectedOutput: "invalid source connection string",
		},
		{
			name: "uris from environment",
			args: []string{"migrate", "--yes"},
			env: map[string]string{
				"MONGOMIGRATE_SOURCE_URI": sourceURI,
				"MONGOMIGRATE_TARGET_URI": sourceURI,
			},
			expectedOutput: "source URI and target URI are identical",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, stderr, err := runCLI(t, tt.args, tt.env)

			require.Error(t, err)
			assert.NotErrorIs(t, err, errCommandTimeout)
			assert.Contains(t, stderr, tt.expectedOutput)
		})
	}
}

func TestDeprecatedEnvVars(t *testing.T) {
	t.Parallel()

	_, stderr, err := runCLI(t, []string{"migrate", "--yes"}, map[string]string{
		"SOURCE_URI": sourceURI,
		"TARGET_URI": sourceURI,
	})

	require.Error(t, err)
	assert.Contains(t, stderr, "SOURCE_URI is deprecated")
	assert.Contains(t, stderr, "source URI and target URI are identical")
}

func TestMigrateCommandUnreachable(t *testing.T) {
	t.Parallel()

	stdout, stderr, err := runCLI(t, []string{
		"migrate", "--source", sourceURI, "--target", targetURI, "--mode", "newOnly", "--json",
		"--mongodb-server-selection-timeout", "200ms",
	}, nil)

	require.Error(t, err)
	assert.NotErrorIs(t, err, errCommandTimeout)
	assert.Contains(t, stderr, "Migration failed")

	var res struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Mode    string `json:"migrationMode"`
	}

	require.NoError(t, json.Unmarshal([]byte(stdout), &res), "stdout: %s", stdout)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "source: connect")
	assert.Equal(t, "newOnly", res.Mode)
}

func TestTestCommandUnreachable(t *testing.T) {
	t.Parallel()

	stdout, stderr, err := runCLI(t, []string{
		"test", "--source", sourceURI, "--target", targetURI,
		"--mongodb-server-selection-timeout", "200ms",
	}, nil)

	require.Error(t, err)
	assert.NotErrorIs(t, err, errCommandTimeout)
	assert.Contains(t, stderr, "connection test failed")

	var rep struct {
		Success bool `json:"success"`
		Source  bool `json:"source"`
		Target  bool `json:"target"`
		Errors  struct {
			Source string `json:"source"`
			Target string `json:"target"`
		} `json:"errors"`
	}

	require.NoError(t, json.Unmarshal([]byte(stdout), &rep), "stdout: %s", stdout)
	assert.False(t, rep.Success)
	assert.NotEmpty(t, rep.Errors.Source)
	assert.NotEmpty(t, rep.Errors.Target)
}

func TestPortConfiguration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"flag", []string{"--port", "80"}, nil},
		{"env", nil, map[string]string{"MONGOMIGRATE_PORT": "70000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, stderr, err := runCLI(t, tt.args, tt.env)

			require.Error(t, err)
			assert.NotErrorIs(t, err, errCommandTimeout)
			assert.Contains(t, stderr, "port value is outside the supported range")
		})
	}
}
