/*
 * vnetd - A Virtual Network OpenFlow Controller
 *
 * Copyright (C) 2026 The vnetd Authors. All rights reserved.
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; either version 2 of the License, or
 * any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License along
 * with this program; if not, write to the Free Software Foundation, Inc.,
 * 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.
 */

// Package ofctl programs Open vSwitch bridges through the ovs-ofctl and ovs-vsctl utilities.
package ofctl

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/sdnlab/vnetd/flow"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
	utilexec "k8s.io/utils/exec"
)

var (
	logger = logging.MustGetLogger("ofctl")

	ErrNoBridge = errors.New("no bridge found")
)

type Config struct {
	OfctlPath string
	VsctlPath string
	// Log every flow line we issue.
	Verbose bool
}

// Runner executes the Open vSwitch utilities.
type Runner struct {
	exec    utilexec.Interface
	ofctl   string
	vsctl   string
	verbose bool
}

func NewRunner(e utilexec.Interface, c Config) *Runner {
	if e == nil {
		panic("nil exec interface")
	}

	ofctl := c.OfctlPath
	if ofctl == "" {
		ofctl = "ovs-ofctl"
	}
	vsctl := c.VsctlPath
	if vsctl == "" {
		vsctl = "ovs-vsctl"
	}

	return &Runner{
		exec:    e,
		ofctl:   ofctl,
		vsctl:   vsctl,
		verbose: c.Verbose,
	}
}

func (r *Runner) run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := r.exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.SetStdin(bytes.NewReader(stdin))
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, errors.Wrapf(err, "%v %v: %v", name, strings.Join(args, " "), strings.TrimSpace(string(out)))
	}

	return out, nil
}

// Bridge returns a handle that programs the named bridge.
func (r *Runner) Bridge(name string) *Bridge {
	return &Bridge{runner: r, name: name}
}

// Bridge issues flow table commands to a single bridge.
type Bridge struct {
	runner *Runner
	name   string
}

func (r *Bridge) Name() string {
	return r.name
}

func (r *Bridge) AddFlow(f flow.Flow) error {
	v := f.String()
	if r.runner.verbose {
		logger.Infof("%v add-flow %v %v", r.runner.ofctl, r.name, v)
	}
	_, err := r.runner.run(context.Background(), nil, r.runner.ofctl, "add-flow", r.name, v)

	return err
}

// DelFlow removes the flow exactly matching selector, which must carry the priority.
func (r *Bridge) DelFlow(selector string) error {
	if r.runner.verbose {
		logger.Infof("%v --strict del-flows %v %v", r.runner.ofctl, r.name, selector)
	}
	_, err := r.runner.run(context.Background(), nil, r.runner.ofctl, "--strict", "del-flows", r.name, selector)

	return err
}

// AddFlows installs all flows in a single ovs-ofctl invocation.
func (r *Bridge) AddFlows(flows []flow.Flow) error {
	lines := make([]string, len(flows))
	for i, f := range flows {
		lines[i] = f.String()
	}

	return r.batch("add-flows", lines)
}

// DelFlows removes the flows exactly matching each selector in a single ovs-ofctl invocation.
func (r *Bridge) DelFlows(selectors []string) error {
	return r.batch("del-flows", selectors, "--strict")
}

func (r *Bridge) batch(cmd string, lines []string, opts ...string) error {
	if len(lines) == 0 {
		return nil
	}
	if r.runner.verbose {
		for _, v := range lines {
			logger.Infof("%v %v %v %v", r.runner.ofctl, cmd, r.name, v)
		}
	}
	logger.Debugf("%v: %v %v flow(s)", r.name, cmd, len(lines))

	stdin := []byte(strings.Join(lines, "\n") + "\n")
	args := append(append([]string{}, opts...), cmd, r.name, "-")
	_, err := r.runner.run(context.Background(), stdin, r.runner.ofctl, args...)

	return err
}

// AddGRETunnel attaches a GRE port towards remote keyed by key.
func (r *Bridge) AddGRETunnel(name string, remote net.IP, key uint32) error {
	if remote.To4() == nil {
		return fmt.Errorf("invalid remote address: %v", remote)
	}

	_, err := r.runner.run(context.Background(), nil, r.runner.vsctl,
		"--may-exist", "add-port", r.name, name,
		"--", "set", "interface", name, "type=gre",
		fmt.Sprintf("options:remote_ip=%v", remote), fmt.Sprintf("options:key=%v", key))

	return err
}
