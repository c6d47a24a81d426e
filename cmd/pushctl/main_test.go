package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVapidGenerate(t *testing.T) {
	cmd := vapidCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"generate"})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "VAPID_PUBLIC_KEY="))
	assert.True(t, strings.HasPrefix(lines[1], "VAPID_PRIVATE_KEY="))
	assert.Greater(t, len(lines[0]), len("VAPID_PUBLIC_KEY="))
}

func TestAlarmsListRequiresEndpoint(t *testing.T) {
	cmd := alarmsCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"list"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")
}
