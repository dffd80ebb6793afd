package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWritesFeedFile(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	out := filepath.Join(t.TempDir(), "licenses.json")

	require.NoError(t, run("PRO", "user@x.com", 12, 2, out, logger))

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var feed feedFile
	require.NoError(t, json.Unmarshal(data, &feed))
	require.Len(t, feed.Licenses, 2)
	assert.Regexp(t, `^SSB-PRO-[A-Z0-9]{4}-[A-Z0-9]{4}$`, feed.Licenses[0].Key)
	assert.Equal(t, "user@x.com", feed.Licenses[0].Email)
}

func TestRunAppendsToExistingFeed(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	out := filepath.Join(t.TempDir(), "licenses.json")

	require.NoError(t, run("PRO", "", 1, 1, out, logger))
	require.NoError(t, run("ELITE", "", 0, 1, out, logger))

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var feed feedFile
	require.NoError(t, json.Unmarshal(data, &feed))
	require.Len(t, feed.Licenses, 2)
	assert.Contains(t, feed.Licenses[1].Key, "SSB-ELITE-")
}

func TestRunRejectsZeroCount(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.Error(t, run("PRO", "", 1, 0, "", logger))
}
