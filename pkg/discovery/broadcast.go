// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package discovery

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/mintylink/pkg/minty"
)

// broadcast sends one discovery datagram and collects up to MaxReplies
// replies, stopping early after IdleTimeout without traffic
func (s *Service) broadcast(r *run) error {
	target, err := s.broadcastTarget()
	if err != nil {
		return err
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("failed to open discovery socket: %w", err)
	}
	defer conn.Close()

	// Unblock ReadFrom when the run is cancelled
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-r.ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	dst, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return fmt.Errorf("invalid broadcast address %q: %w", target, err)
	}
	if _, err := conn.WriteTo([]byte(s.cfg.RequestToken), dst); err != nil {
		return fmt.Errorf("failed to send discovery request: %w", err)
	}
	s.logger.Debug("discovery request sent", "target", target)

	buf := make([]byte, 1024)
	for i := 0; i < s.cfg.MaxReplies; i++ {
		if r.ctx.Err() != nil {
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("discovery read failed: %w", err)
		}

		deviceID, ok := parseReply(string(buf[:n]), s.cfg.ResponseToken)
		if !ok {
			s.logger.Debug("ignoring discovery reply", "from", from.String())
			continue
		}
		host := from.String()
		if udp, ok := from.(*net.UDPAddr); ok {
			host = udp.IP.String()
		}
		r.report(minty.DeviceAddress{Host: host, DeviceID: deviceID})
	}
	return nil
}

// parseReply accepts "<token>:<deviceId>". The device identifier is
// everything after the first colon; a bare token yields an empty id.
func parseReply(reply, token string) (string, bool) {
	reply = strings.TrimSpace(reply)
	if !strings.HasPrefix(reply, token) {
		return "", false
	}
	_, id, _ := strings.Cut(reply, minty.FieldSeparator)
	return id, true
}

func (s *Service) broadcastTarget() (string, error) {
	if s.cfg.BroadcastAddr != "" {
		return s.cfg.BroadcastAddr, nil
	}
	port := strconv.Itoa(s.cfg.Port)
	ipnet, err := localIPv4Net()
	if err != nil {
		s.logger.Debug("falling back to limited broadcast", "error", err)
		return net.JoinHostPort(net.IPv4bcast.String(), port), nil
	}
	return net.JoinHostPort(broadcastAddress(ipnet).String(), port), nil
}

// broadcastAddress returns the directed broadcast address of an IPv4 network
func broadcastAddress(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	out := make(net.IP, net.IPv4len)
	for i := range out {
		out[i] = ip[i] | ^mask[i]
	}
	return out
}

// localIPv4Net returns the first non-loopback IPv4 network of an up interface
func localIPv4Net() (*net.IPNet, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			return &net.IPNet{IP: ipnet.IP.To4(), Mask: ipnet.Mask}, nil
		}
	}
	return nil, errors.New("no IPv4 network interface found")
}
