package config

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRequirements(t *testing.T) {
	req, err := DefaultRequirements()
	require.NoError(t, err)

	assert.Equal(t, int64(500), req.DiskSpaceMB)
	assert.Contains(t, req.ExternalTools, "node")
	assert.Equal(t, []string{"git"}, req.ToolsFor([]string{"core"}))
	assert.Equal(t, []string{"claude_cli", "git", "node", "uv"}, req.ToolsFor([]string{"core", "mcp"}))
}

func TestParseRequirements_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown field":   "disk_space_mb: 1\nbogus: true\n",
		"no disk space":   "disk_space_mb: 0\n",
		"missing command": "disk_space_mb: 1\nexternal_tools:\n  x:\n    optional: true\n",
		"bad version":     "disk_space_mb: 1\nexternal_tools:\n  x:\n    command: x --version\n    min_version: latest\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRequirements([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func fakeProbe(outputs map[string]string) Probe {
	return func(_ context.Context, name string, _ ...string) (string, error) {
		out, ok := outputs[name]
		if !ok {
			return "", errors.New(name + " not found in PATH")
		}
		return out, nil
	}
}

func TestCheckTools(t *testing.T) {
	req, err := DefaultRequirements()
	require.NoError(t, err)

	t.Run("all present", func(t *testing.T) {
		results, errs := req.CheckTools(context.Background(), []string{"mcp"}, fakeProbe(map[string]string{
			"node":   "v20.11.1\n",
			"claude": "1.0.3 (Claude Code)\n",
			"uv":     "uv 0.4.0\n",
			"git":    "git version 2.43.0\n",
		}))
		assert.Empty(t, errs)
		require.Len(t, results, 4)
		for _, r := range results {
			assert.NoError(t, r.Err, r.Name)
		}
	})

	t.Run("node too old", func(t *testing.T) {
		_, errs := req.CheckTools(context.Background(), []string{"mcp"}, fakeProbe(map[string]string{
			"node": "v16.20.0\n",
		}))
		require.Len(t, errs, 1)
		assert.True(t, strings.HasPrefix(errs[0], "node: version 16.20.0 found"))
	})

	t.Run("optional tools missing", func(t *testing.T) {
		results, errs := req.CheckTools(context.Background(), []string{"core"}, fakeProbe(nil))
		assert.Empty(t, errs)
		require.Len(t, results, 1)
		assert.Error(t, results[0].Err)
		assert.True(t, results[0].Optional)
	})
}
