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

package network

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	protoICMP uint8 = 1
	protoTCP  uint8 = 6
	protoUDP  uint8 = 17
)

// SecurityRule admits inbound traffic to an instance.
//
// For TCP and UDP, From and To bound the local port range (0 means any port).
// For ICMP, From is the ICMP type and To the ICMP code (-1 means any).
type SecurityRule struct {
	Protocol uint8
	From     int
	To       int
	Remote   *net.IPNet
}

func (r SecurityRule) String() string {
	var name string
	switch r.Protocol {
	case protoICMP:
		name = "icmp"
	case protoTCP:
		name = "tcp"
	case protoUDP:
		name = "udp"
	default:
		name = strconv.Itoa(int(r.Protocol))
	}

	return fmt.Sprintf("%v:%v,%v,ip4:%v", name, r.From, r.To, r.Remote)
}

// ParseSecurityRules parses one rule per line in the form "proto:from,to,ip4:addr[/len]".
// Blank lines and lines starting with '#' are skipped.
func ParseSecurityRules(text string) ([]SecurityRule, error) {
	var rules []SecurityRule
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, err := ParseSecurityRule(line)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

func ParseSecurityRule(s string) (SecurityRule, error) {
	proto, rest, ok := strings.Cut(s, ":")
	if !ok {
		return SecurityRule{}, fmt.Errorf("invalid security rule: %v", s)
	}

	rule := SecurityRule{}
	switch strings.ToLower(proto) {
	case "icmp":
		rule.Protocol = protoICMP
	case "tcp":
		rule.Protocol = protoTCP
	case "udp":
		rule.Protocol = protoUDP
	default:
		return SecurityRule{}, fmt.Errorf("unsupported protocol in security rule: %v", s)
	}

	fields := strings.SplitN(rest, ",", 3)
	if len(fields) != 3 {
		return SecurityRule{}, fmt.Errorf("invalid security rule: %v", s)
	}
	from, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return SecurityRule{}, errors.Wrapf(err, "invalid security rule: %v", s)
	}
	to, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return SecurityRule{}, errors.Wrapf(err, "invalid security rule: %v", s)
	}
	if err := validateRange(rule.Protocol, from, to); err != nil {
		return SecurityRule{}, errors.Wrapf(err, "invalid security rule: %v", s)
	}
	rule.From, rule.To = from, to

	remote, err := parseRemote(strings.TrimSpace(fields[2]))
	if err != nil {
		return SecurityRule{}, errors.Wrapf(err, "invalid security rule: %v", s)
	}
	rule.Remote = remote

	return rule, nil
}

func validateRange(proto uint8, from, to int) error {
	if proto == protoICMP {
		if from < -1 || from > 255 || to < -1 || to > 255 {
			return errors.New("ICMP type and code should be between -1 and 255")
		}
		return nil
	}
	if from < 0 || from > 65535 || to < 0 || to > 65535 {
		return errors.New("port number should be between 0 and 65535")
	}
	if from > to {
		return errors.New("port range is reversed")
	}

	return nil
}

// parseRemote parses "ip4:addr[/len]". A bare 0.0.0.0 means any address and
// any other bare address means the host itself.
func parseRemote(s string) (*net.IPNet, error) {
	addr, ok := strings.CutPrefix(s, "ip4:")
	if !ok {
		return nil, fmt.Errorf("unsupported remote: %v", s)
	}

	if !strings.Contains(addr, "/") {
		ip := net.ParseIP(addr).To4()
		if ip == nil {
			return nil, fmt.Errorf("invalid IPv4 address: %v", addr)
		}
		if ip.Equal(net.IPv4zero) {
			return &net.IPNet{IP: ip, Mask: net.CIDRMask(0, 32)}, nil
		}
		return &net.IPNet{IP: ip, Mask: net.CIDRMask(32, 32)}, nil
	}

	ip, n, err := net.ParseCIDR(addr)
	if err != nil {
		return nil, err
	}
	if ip.To4() == nil {
		return nil, fmt.Errorf("not an IPv4 network: %v", addr)
	}

	return n, nil
}

// portMatches covers the range [from, to] with value/mask port matches.
// It returns a single empty match when the range covers every port.
func portMatches(from, to int) []string {
	if from == 0 && (to == 0 || to == 65535) {
		return []string{""}
	}
	if from == to {
		return []string{strconv.Itoa(from)}
	}

	var result []string
	low, high := uint32(from), uint32(to)
	for low <= high {
		// Largest aligned block starting at low that still fits in the range.
		size := uint32(1)
		for low%(size*2) == 0 && low+size*2-1 <= high {
			size *= 2
		}
		if size == 1 {
			result = append(result, strconv.Itoa(int(low)))
		} else {
			result = append(result, fmt.Sprintf("0x%04x/0x%04x", low, 0xffff&^(size-1)))
		}
		low += size
	}

	return result
}

// applySecurityRules queues the filter flows of rules on the instance port.
func (r *Port) applySecurityRules(rules []SecurityRule) {
	for _, v := range rules {
		switch v.Protocol {
		case protoICMP:
			r.installStaticICMP(v.From, v.To, r.hwAddr, r.ip, v.Remote)
		default:
			for _, m := range portMatches(v.From, v.To) {
				r.installStaticTransport(v.Protocol, r.hwAddr, r.ip, m, v.Remote)
			}
		}
	}
}
