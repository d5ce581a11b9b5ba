/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/plugin-chardev/internal/logging"
	"github.com/srediag/plugin-chardev/pkg/transport"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestLoadOptionsPrecedence(t *testing.T) {
	env := lookupFrom(map[string]string{
		"CHARDEV_CAPACITY":  "2048",
		"CHARDEV_NETWORK":   "tcp",
		"CHARDEV_ADDRESS":   "127.0.0.1:7000",
		"CHARDEV_LOG_LEVEL": "debug",
	})

	opts, err := loadOptions(nil, env, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 2048, opts.cfg.Capacity)
	assert.Equal(t, "127.0.0.1:7000", opts.cfg.Address)
	assert.Equal(t, "debug", opts.cfg.LogLevel)

	opts, err = loadOptions([]string{"-capacity", "4096", "-pprof", "-io-timeout", "2s"}, env, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 4096, opts.cfg.Capacity)
	assert.Equal(t, "tcp", opts.cfg.Network)
	assert.Equal(t, 2*time.Second, opts.cfg.IOTimeout)
	assert.True(t, opts.pprof)
}

func TestLoadOptionsRejectsBadInput(t *testing.T) {
	none := lookupFrom(nil)

	_, err := loadOptions([]string{"-capacity", "0"}, none, io.Discard)
	assert.ErrorContains(t, err, "invalid config")

	_, err = loadOptions([]string{"extra"}, none, io.Discard)
	assert.ErrorContains(t, err, "unexpected arguments")

	_, err = loadOptions(nil, lookupFrom(map[string]string{"CHARDEV_CAPACITY": "lots"}), io.Discard)
	assert.Error(t, err)

	_, err = loadOptions([]string{"-h"}, none, io.Discard)
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestRunServesUntilCanceled(t *testing.T) {
	dir, err := os.MkdirTemp("", "chardevd")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "dev.sock")

	opts, err := loadOptions([]string{"-address", sock, "-admin", "", "-log-level", "none"}, lookupFrom(nil), io.Discard)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, opts, logging.New("test", io.Discard)) }()

	c, err := transport.Dial(ctx, "unix", sock, transport.DialOptions{
		Timeout:         time.Second,
		MaxRetries:      50,
		InitialInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write(ctx, []byte("Hello World"))
	require.NoError(t, err)
	require.NoError(t, c.Reverse(ctx))
	data, err := c.Read(ctx, 64)
	require.NoError(t, err)
	assert.Equal(t, "dlroW olleH", string(data))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	_, err = os.Stat(sock)
	assert.True(t, os.IsNotExist(err))
}

func TestRunFailsOnBadAddress(t *testing.T) {
	opts, err := loadOptions([]string{"-network", "tcp", "-address", "256.0.0.1:1", "-admin", ""}, lookupFrom(nil), io.Discard)
	require.NoError(t, err)
	err = run(context.Background(), opts, logging.New("test", io.Discard))
	assert.ErrorContains(t, err, "listen tcp")
}
