// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	opts, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults, *opts)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`{"loglevel":"debug","xlinkmaxdepth":9}`), 0o644))

	opts, err := Load(cfgFile)
	require.NoError(t, err)
	want := Defaults
	want.LogLevel = "debug"
	want.XlinkMaxDepth = 9
	assert.Equal(t, want, *opts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`{"loglevel":"debug"}`), 0o644))
	t.Setenv("MANIFESTCORE_LOGLEVEL", "warn")
	t.Setenv("MANIFESTCORE_FETCHMAXATTEMPTS", "7")

	opts, err := Load(cfgFile)
	require.NoError(t, err)
	assert.Equal(t, "warn", opts.LogLevel)
	assert.Equal(t, 7, opts.FetchMaxAttempts)
}

func TestRetryParamsAndFetchTimeout(t *testing.T) {
	opts := Defaults
	opts.FetchMaxAttempts = 4
	opts.FetchBaseDelayMS = 250
	opts.FetchTimeoutS = 8

	rp := opts.RetryParams()
	assert.Equal(t, 4, rp.MaxAttempts)
	assert.Equal(t, 250*1e6, float64(rp.BaseDelay))
	assert.Equal(t, 8*1e9, float64(opts.FetchTimeout()))
}
