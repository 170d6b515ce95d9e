package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freakble/internal/config"
	"freakble/internal/model"
)

func execute(t *testing.T, args ...string) (*Application, *bytes.Buffer, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := NewApplication(&stdout, &stderr)

	root := newRootCommand(app)
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)

	err := root.ExecuteContext(context.Background())
	return app, &stdout, err
}

func TestVersionCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	_, out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("freakble %s\n", config.Version), out.String())
}

func TestSendRequiresDevice(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FREAKBLE_DEVICE", "")

	_, _, err := execute(t, "send", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FREAKBLE_DEVICE")
}

func TestSendAcceptsNoWords(t *testing.T) {
	cmd := newSendCommand(NewApplication(&bytes.Buffer{}, &bytes.Buffer{}))

	assert.NoError(t, cmd.ValidateArgs(nil))
	assert.NoError(t, cmd.ValidateArgs([]string{"hello", "world"}))
}

func TestFlagsOverrideConfiguration(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FREAKBLE_DEVICE", "11:22:33:44:55:66")

	app, _, err := execute(t, "--adapter", "hci1", "version")
	require.NoError(t, err)
	assert.Equal(t, "hci1", app.config.Adapter)
	assert.Equal(t, "11:22:33:44:55:66", app.config.Device)
}

func TestInvalidLogLevel(t *testing.T) {
	t.Chdir(t.TempDir())

	_, _, err := execute(t, "--log-level", "loud", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestExitCode(t *testing.T) {
	var stderr bytes.Buffer
	app := NewApplication(&bytes.Buffer{}, &stderr)

	assert.Equal(t, exitOK, app.exitCode(nil))

	assert.Equal(t, exitLinkLost, app.exitCode(fmt.Errorf("send: %w", model.ErrLinkLost)))
	assert.Contains(t, stderr.String(), "Warning:")

	stderr.Reset()
	assert.Equal(t, exitFatal, app.exitCode(errors.New("boom")))
	assert.Equal(t, "Error: boom\n", stderr.String())
}
