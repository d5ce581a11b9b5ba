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

// Package config holds the settings of the chardev daemon and client.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/srediag/plugin-chardev/internal/logging"
)

const (
	defaultCapacity     = 1024
	defaultNetwork      = "unix"
	defaultAddress      = "/tmp/chardev.sock"
	defaultAdminAddress = "127.0.0.1:9102"
	defaultMaxHandles   = 256
	defaultMaxFrameSize = 1 << 20
	defaultIOTimeout    = 5 * time.Second
	defaultJournalSize  = 1024

	maxCapacity = 64 << 20
	envPrefix   = "CHARDEV_"
)

// Config is the daemon configuration.
type Config struct {
	// Capacity is the fixed buffer size in bytes.
	Capacity int
	// Network and Address locate the socket transport ("unix" or "tcp").
	Network string
	Address string
	// GRPCAddress is a TCP address for the gRPC endpoint; empty disables it.
	GRPCAddress string
	// AdminAddress serves health, metrics and debug endpoints; empty disables it.
	AdminAddress string
	// MaxHandles bounds concurrently open socket connections.
	MaxHandles int
	// MaxFrameSize bounds a single request payload. Must be at least Capacity.
	MaxFrameSize int
	// IOTimeout bounds each response write on socket connections. Requests
	// are read without a deadline so idle handles stay open.
	IOTimeout time.Duration
	// JournalSize is the number of recent operation events kept in memory.
	JournalSize int
	LogLevel    string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Capacity:     defaultCapacity,
		Network:      defaultNetwork,
		Address:      defaultAddress,
		AdminAddress: defaultAdminAddress,
		MaxHandles:   defaultMaxHandles,
		MaxFrameSize: defaultMaxFrameSize,
		IOTimeout:    defaultIOTimeout,
		JournalSize:  defaultJournalSize,
		LogLevel:     logging.LevelWarn.String(),
	}
}

// VerifyConfig checks that c is usable.
func VerifyConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Capacity <= 0 || c.Capacity > maxCapacity {
		return fmt.Errorf("capacity must be in (0, %d], got %d", maxCapacity, c.Capacity)
	}
	switch c.Network {
	case "unix", "tcp", "tcp4", "tcp6":
	default:
		return fmt.Errorf("unsupported network %q", c.Network)
	}
	if c.Address == "" {
		return errors.New("address is required")
	}
	if c.MaxHandles <= 0 {
		return fmt.Errorf("max handles must be positive, got %d", c.MaxHandles)
	}
	if c.MaxFrameSize < c.Capacity {
		return fmt.Errorf("max frame size %d is smaller than capacity %d", c.MaxFrameSize, c.Capacity)
	}
	if c.IOTimeout <= 0 {
		return fmt.Errorf("io timeout must be positive, got %s", c.IOTimeout)
	}
	if c.JournalSize < 0 {
		return fmt.Errorf("journal size must not be negative, got %d", c.JournalSize)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from CHARDEV_* variables found through lookup
// (os.LookupEnv when nil).
func ApplyEnv(c *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	ints := map[string]*int{
		"CAPACITY":       &c.Capacity,
		"MAX_HANDLES":    &c.MaxHandles,
		"MAX_FRAME_SIZE": &c.MaxFrameSize,
		"JOURNAL_SIZE":   &c.JournalSize,
	}
	for key, dst := range ints {
		v, ok := lookup(envPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
	}
	strs := map[string]*string{
		"NETWORK":       &c.Network,
		"ADDRESS":       &c.Address,
		"GRPC_ADDRESS":  &c.GRPCAddress,
		"ADMIN_ADDRESS": &c.AdminAddress,
		"LOG_LEVEL":     &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	if v, ok := lookup(envPrefix + "IO_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sIO_TIMEOUT: %w", envPrefix, err)
		}
		c.IOTimeout = d
	}
	return nil
}
