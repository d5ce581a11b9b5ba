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

// Command chardevctl is a manual client for chardevd. Without a subcommand it
// runs an interactive menu; otherwise it performs one operation and exits:
//
//	chardevctl [flags] write <data...>
//	chardevctl [flags] read [max]
//	chardevctl [flags] reset|size|reverse|sequence
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/srediag/plugin-chardev/pkg/config"
	"github.com/srediag/plugin-chardev/pkg/transport"
	"github.com/srediag/plugin-chardev/pkg/transport/grpcsvc"
)

const defaultReadSize = 1024

// device is what both the socket and gRPC clients provide.
type device interface {
	Write(ctx context.Context, p []byte) (int, error)
	Read(ctx context.Context, max int) ([]byte, error)
	Reset(ctx context.Context) error
	Size(ctx context.Context) (int, error)
	Reverse(ctx context.Context) error
	Close() error
}

var (
	_ device = (*transport.Client)(nil)
	_ device = (*grpcsvc.Client)(nil)
)

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func realMain(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg := config.DefaultConfig()
	if err := config.ApplyEnv(cfg, nil); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	fs := flag.NewFlagSet("chardevctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	network := fs.String("network", cfg.Network, "socket network")
	address := fs.String("address", cfg.Address, "socket path or host:port")
	grpcAddr := fs.String("grpc", "", "use the gRPC endpoint at this address instead of the socket")
	timeout := fs.Duration("timeout", 5*time.Second, "per-request timeout")
	retries := fs.Uint64("retries", 3, "connection retries")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx := context.Background()
	var (
		dev device
		err error
	)
	if *grpcAddr != "" {
		dev, err = grpcsvc.Dial(*grpcAddr)
	} else {
		dev, err = transport.Dial(ctx, *network, *address, transport.DialOptions{
			Timeout:    *timeout,
			MaxRetries: *retries,
		})
	}
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open device: %v\n", err)
		return 1
	}
	defer dev.Close()

	c := &cli{dev: dev, out: stdout, timeout: *timeout}
	if fs.NArg() == 0 {
		fmt.Fprintln(stdout, "=== chardev test client ===")
		fmt.Fprintln(stdout)
		c.menu(stdin)
		return 0
	}
	if err := c.command(fs.Arg(0), fs.Args()[1:]); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

type cli struct {
	dev     device
	out     io.Writer
	timeout time.Duration
}

func (c *cli) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *cli) command(name string, args []string) error {
	var err error
	switch name {
	case "write":
		if len(args) == 0 {
			return errors.New("write: missing data")
		}
		err = c.write(strings.Join(args, " "))
	case "read":
		n := defaultReadSize
		if len(args) > 0 {
			if n, err = strconv.Atoi(args[0]); err != nil {
				return fmt.Errorf("read: bad size %q", args[0])
			}
		}
		err = c.read(n)
	case "reset":
		err = c.reset()
	case "size":
		err = c.size()
	case "reverse":
		err = c.reverse()
	case "sequence":
		err = c.sequence()
	default:
		return fmt.Errorf("unknown command %q", name)
	}
	return err
}

func (c *cli) menu(in io.Reader) {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.out, "Available operations:\n"+
			"1. Write data to device\n"+
			"2. Read data from device\n"+
			"3. Reset buffer\n"+
			"4. Get buffer size\n"+
			"5. Reverse buffer contents\n"+
			"6. Run complete test sequence\n"+
			"q. Quit\n\n"+
			"Enter your choice: ")
		if !sc.Scan() {
			fmt.Fprintln(c.out)
			return
		}
		choice := strings.TrimSpace(sc.Text())
		switch strings.ToLower(choice) {
		case "1":
			fmt.Fprint(c.out, "Enter data to write: ")
			if !sc.Scan() {
				return
			}
			_ = c.write(sc.Text())
		case "2":
			_ = c.read(defaultReadSize)
		case "3":
			_ = c.reset()
		case "4":
			_ = c.size()
		case "5":
			_ = c.reverse()
		case "6":
			_ = c.sequence()
		case "q":
			fmt.Fprintln(c.out, "Exiting...")
			return
		default:
			fmt.Fprintln(c.out, "Invalid choice. Please try again.")
		}
		fmt.Fprintln(c.out)
	}
}

func (c *cli) write(data string) error {
	ctx, cancel := c.ctx()
	defer cancel()
	n, err := c.dev.Write(ctx, []byte(data))
	if err != nil {
		fmt.Fprintf(c.out, "Write failed: %v\n", err)
		return err
	}
	fmt.Fprintf(c.out, "Successfully wrote %d bytes: '%s'\n", n, data)
	return nil
}

func (c *cli) read(max int) error {
	ctx, cancel := c.ctx()
	defer cancel()
	data, err := c.dev.Read(ctx, max)
	switch {
	case err != nil:
		fmt.Fprintf(c.out, "Read failed: %v\n", err)
		return err
	case len(data) == 0:
		fmt.Fprintln(c.out, "No data available to read (buffer is empty)")
	default:
		fmt.Fprintf(c.out, "Successfully read %d bytes: '%s'\n", len(data), data)
	}
	return nil
}

func (c *cli) reset() error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.dev.Reset(ctx); err != nil {
		fmt.Fprintf(c.out, "Reset failed: %v\n", err)
		return err
	}
	fmt.Fprintln(c.out, "Buffer reset successfully")
	return nil
}

func (c *cli) size() error {
	ctx, cancel := c.ctx()
	defer cancel()
	n, err := c.dev.Size(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Get size failed: %v\n", err)
		return err
	}
	fmt.Fprintf(c.out, "Current buffer size: %d bytes\n", n)
	return nil
}

func (c *cli) reverse() error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.dev.Reverse(ctx); err != nil {
		fmt.Fprintf(c.out, "Reverse failed: %v\n", err)
		return err
	}
	fmt.Fprintln(c.out, "Buffer reversed successfully")
	return nil
}

// sequence exercises every operation once. The read comes after the reverse
// because a read drains the buffer.
func (c *cli) sequence() error {
	steps := []struct {
		title string
		run   func() error
	}{
		{"Writing 'Hello World' to device", func() error { return c.write("Hello World") }},
		{"Getting buffer size", c.size},
		{"Reversing buffer", c.reverse},
		{"Reading reversed data", func() error { return c.read(defaultReadSize) }},
		{"Writing 'Hello World' again", func() error { return c.write("Hello World") }},
		{"Resetting buffer", c.reset},
		{"Reading after reset (should be empty)", func() error { return c.read(defaultReadSize) }},
	}
	fmt.Fprintln(c.out, "Testing complete sequence...")
	for i, s := range steps {
		fmt.Fprintf(c.out, "%d. %s...\n", i+1, s.title)
		if err := s.run(); err != nil {
			return err
		}
	}
	return nil
}
