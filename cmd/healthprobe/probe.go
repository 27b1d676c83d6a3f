package main

import (
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

// probe polls the main service's readiness endpoint on a fixed interval and
// caches the last result so the sidecar can answer probers without
// amplifying load onto the main listener.
type probe struct {
	target   string
	interval time.Duration
	client   *fasthttp.Client
	ok       atomic.Bool
}

func newProbe(target string, interval time.Duration) *probe {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &probe{
		target:   target,
		interval: interval,
		client:   &fasthttp.Client{ReadTimeout: 3 * time.Second, WriteTimeout: 3 * time.Second},
	}
}

func (p *probe) ready() bool { return p.ok.Load() }

func (p *probe) start() {
	p.poll()
	go func() {
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for range t.C {
			p.poll()
		}
	}()
}

func (p *probe) poll() {
	code, _, err := p.client.GetTimeout(nil, p.target, 3*time.Second)
	p.ok.Store(err == nil && code == fasthttp.StatusOK)
}
