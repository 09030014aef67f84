package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runProcess(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("CATFEED_LOG_LEVEL", "")
	t.Setenv("CATFEED_VALIDATION", "")

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"process"}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestProcessCommand_Stdin(t *testing.T) {
	stdout, stderr, err := runProcess(t, `{"messages":[{"value":{"cats":[{"color":"black","name":"Tom"}]}}]}`)

	require.NoError(t, err)
	assert.JSONEq(t, `{"cats":[{"color":"black","name":"Tom"}]}`, stdout)
	assert.Contains(t, stderr, "A black cat named Tom was received.")
}

func TestProcessCommand_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"messages":[{"value":{"cats":[]}},{"value":{"cats":[{"color":"white","name":"Snow"}]}}]}`), 0o600))

	stdout, _, err := runProcess(t, "", path)

	require.NoError(t, err)
	var result catfeed.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	require.Len(t, result.Cats, 1)
	assert.Equal(t, "Snow", result.Cats[0].Name())
}

func TestProcessCommand_InvalidArguments(t *testing.T) {
	stdout, _, err := runProcess(t, `{"messages":[]}`)

	require.Error(t, err)
	assert.Equal(t, catfeed.InvalidArgumentMessage, err.Error())
	assert.Empty(t, stdout)
}

func TestProcessCommand_ValidationFlag(t *testing.T) {
	_, _, err := runProcess(t, `{"messages":[{"value":{"cats":[]}}]}`, "--validation", "sometimes")

	assert.Error(t, err)
}
