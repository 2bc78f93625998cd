// SPDX-License-Identifier: MIT

package discovery

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponderAnswersProbe(t *testing.T) {
	probe, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer func() { _ = probe.Close() }()

	srv, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := srv.LocalAddr().(*net.UDPAddr).Port
	_ = srv.Close()

	r := NewResponder(port, 8080, "1.2.3")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}

	var resp reply
	require.Eventually(t, func() bool {
		_, err := probe.WriteToUDP([]byte("ping"), dst)
		if err != nil {
			return false
		}
		_ = probe.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		buf := make([]byte, 1024)
		n, _, err := probe.ReadFromUDP(buf)
		if err != nil {
			return false
		}
		return json.Unmarshal(buf[:n], &resp) == nil
	}, 3*time.Second, 50*time.Millisecond)

	assert.Equal(t, "sprinklerd", resp.Service)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, 8080, resp.Port)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("responder did not stop")
	}
}
