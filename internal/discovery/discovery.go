// SPDX-License-Identifier: MIT

// Package discovery answers UDP probes so local clients can find the
// controller without knowing its address.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	xlog "github.com/waterwise/sprinklerd/internal/log"
)

// reply is the JSON datagram sent back to any probe.
type reply struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Port    int    `json:"port"` // HTTP control port
}

// Responder listens on a UDP port and answers every datagram with the
// service identity. Replies are rate limited so a chatty or hostile peer
// cannot turn the responder into an amplifier.
type Responder struct {
	logger   zerolog.Logger
	version  string
	httpPort int
	udpPort  int
	limiter  *rate.Limiter
}

// NewResponder configures a responder for the given ports.
func NewResponder(udpPort, httpPort int, version string) *Responder {
	return &Responder{
		logger:   xlog.WithComponent("discovery"),
		version:  version,
		httpPort: httpPort,
		udpPort:  udpPort,
		limiter:  rate.NewLimiter(rate.Limit(10), 20),
	}
}

// Run serves probes until the context ends.
func (r *Responder) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: r.udpPort})
	if err != nil {
		return fmt.Errorf("discovery: listen udp %d: %w", r.udpPort, err)
	}
	defer func() { _ = conn.Close() }()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	payload, err := json.Marshal(reply{Service: "sprinklerd", Version: r.version, Port: r.httpPort})
	if err != nil {
		return err
	}

	r.logger.Info().Str("event", "discovery.listening").Int("port", r.udpPort).Msg("discovery responder up")

	buf := make([]byte, 1024)
	for {
		_, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn().Err(err).Str("event", "discovery.read_failed").Msg("read error")
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if !r.limiter.Allow() {
			continue
		}
		if _, err := conn.WriteToUDP(payload, addr); err != nil {
			r.logger.Warn().Err(err).Str("event", "discovery.write_failed").Msg("reply failed")
		}
	}
}
