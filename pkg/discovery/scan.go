// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/mintylink/pkg/minty"
)

// Prober checks a single host during a scan
type Prober interface {
	// Reachable reports whether anything answers at host
	Reachable(ctx context.Context, host string) bool
	// ControlOpen reports whether host accepts TCP connections on port
	ControlOpen(ctx context.Context, host string, port int) bool
}

// NetProber probes hosts with short TCP dials
type NetProber struct {
	Timeout time.Duration
}

// echoPort is dialed for reachability. A refused connection still
// proves the host is up.
const echoPort = "7"

func (p NetProber) Reachable(ctx context.Context, host string) bool {
	err := p.dial(ctx, net.JoinHostPort(host, echoPort))
	return err == nil || errors.Is(err, syscall.ECONNREFUSED)
}

func (p NetProber) ControlOpen(ctx context.Context, host string, port int) bool {
	return p.dial(ctx, net.JoinHostPort(host, strconv.Itoa(port))) == nil
}

func (p NetProber) dial(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// scan probes hosts .1 to .254 of the local /24 in batches. Cancellation
// stops new batches from being scheduled; probes already in flight run
// to their own timeout.
func (s *Service) scan(r *run) error {
	prefix, err := s.subnetPrefix()
	if err != nil {
		return err
	}
	s.logger.Debug("scanning subnet", "prefix", prefix+".0/24", "batch", s.cfg.BatchSize)

	for start := 1; start <= 254; start += s.cfg.BatchSize {
		if r.ctx.Err() != nil {
			return nil
		}

		end := start + s.cfg.BatchSize
		if end > 255 {
			end = 255
		}

		var g errgroup.Group
		for suffix := start; suffix < end; suffix++ {
			suffix := suffix
			host := prefix + "." + strconv.Itoa(suffix)
			g.Go(func() error {
				s.probe(r, host, suffix)
				return nil
			})
		}
		g.Wait()
	}
	return nil
}

func (s *Service) probe(r *run, host string, suffix int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), s.cfg.ProbeTimeout)
	defer cancel()
	if !s.prober.Reachable(ctx, host) {
		return
	}

	ctx2, cancel2 := context.WithTimeout(context.WithoutCancel(r.ctx), s.cfg.ProbeTimeout)
	defer cancel2()
	if !s.prober.ControlOpen(ctx2, host, s.cfg.ControlPort) {
		return
	}

	r.report(minty.DeviceAddress{Host: host, DeviceID: fmt.Sprintf("ESP32_%d", suffix)})
}

func (s *Service) subnetPrefix() (string, error) {
	if s.cfg.Subnet != "" {
		return strings.TrimSuffix(s.cfg.Subnet, "."), nil
	}
	ipnet, err := localIPv4Net()
	if err != nil {
		return "", err
	}
	return subnetPrefix(ipnet.IP), nil
}

// subnetPrefix returns the first three octets of an IPv4 address
func subnetPrefix(ip net.IP) string {
	v4 := ip.To4()
	return fmt.Sprintf("%d.%d.%d", v4[0], v4[1], v4[2])
}
