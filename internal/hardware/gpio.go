// SPDX-License-Identifier: MIT

package hardware

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// retryInterval is how often a pin retries a failed write. Pins are not
// always accessible at boot (udev races), so writes park and retry.
const retryInterval = 200 * time.Millisecond

// gpioRoot is swapped out in tests.
var gpioRoot = "/sys/class/gpio"

// pin is one sysfs GPIO line with write-retry semantics.
type pin struct {
	mu       sync.Mutex
	number   int
	output   bool
	logger   zerolog.Logger
	pending  *bool // desired level awaiting a successful write
	retrying bool
}

func newPin(number int, output bool, logger zerolog.Logger) *pin {
	return &pin{number: number, output: output, logger: logger}
}

func (p *pin) valuePath() string {
	return fmt.Sprintf("%s/gpio%d/value", gpioRoot, p.number)
}

// write sets the line level. On failure the desired level is stored and a
// background retry keeps trying until it lands, so no write is lost.
func (p *pin) write(high bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.tryWrite(high); err != nil {
		v := high
		p.pending = &v
		if !p.retrying {
			p.retrying = true
			go p.retryLoop()
		}
		return
	}
	p.pending = nil
}

func (p *pin) tryWrite(high bool) error {
	v := "0"
	if high {
		v = "1"
	}
	if err := os.WriteFile(p.valuePath(), []byte(v), 0o644); err != nil {
		p.export()
		return err
	}
	return nil
}

func (p *pin) retryLoop() {
	for {
		time.Sleep(retryInterval)
		p.mu.Lock()
		if p.pending == nil {
			p.retrying = false
			p.mu.Unlock()
			return
		}
		want := *p.pending
		if err := p.tryWrite(want); err == nil {
			p.pending = nil
			p.retrying = false
			p.logger.Debug().Int("pin", p.number).Bool("value", want).Str("event", "gpio.retry_applied").Msg("parked write applied")
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}
}

// read returns the line level; inaccessible pins read as false.
func (p *pin) read() bool {
	raw, err := os.ReadFile(p.valuePath())
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(raw)) == "1"
}

// export requests the line from the kernel and sets its direction.
// Best-effort; failures surface as the next write failing.
func (p *pin) export() {
	_ = os.WriteFile(gpioRoot+"/export", []byte(strconv.Itoa(p.number)), 0o644)
	dir := "in"
	if p.output {
		dir = "out"
	}
	_ = os.WriteFile(fmt.Sprintf("%s/gpio%d/direction", gpioRoot, p.number), []byte(dir), 0o644)
}

// watchEdge polls an input line and invokes cb on the configured edge.
// falling means a 1→0 transition reports Output=false.
func watchEdge(p *pin, edge string, interval time.Duration, stop <-chan struct{}, cb func(Interrupt)) {
	last := p.read()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			cur := p.read()
			if cur == last {
				continue
			}
			fire := false
			switch edge {
			case "rising":
				fire = cur && !last
			default: // falling
				fire = !cur && last
			}
			last = cur
			if fire && cb != nil {
				cb(Interrupt{Output: cur})
			}
		}
	}
}
