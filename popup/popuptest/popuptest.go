// Package popuptest provides a scripted popup for exercising login flows without a browser.
package popuptest

import (
	"context"
	"net/url"
	"sync"

	"github.com/getlantern/oauthpopup/popup"
)

// Popup replays a script of observations. Once the script is exhausted the last observation is
// repeated; an empty script reports Blocked forever.
type Popup struct {
	mu       sync.Mutex
	script   []popup.Observation
	probes   int
	closes   int
	closeErr error
	onProbe  func(n int)
}

var _ popup.Popup = (*Popup)(nil)

// New returns a popup that replays obs in order.
func New(obs ...popup.Observation) *Popup {
	return &Popup{script: obs}
}

// Push appends observations to the script.
func (p *Popup) Push(obs ...popup.Observation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, obs...)
}

// FailClose makes Close return err.
func (p *Popup) FailClose(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeErr = err
}

// OnProbe registers fn to be called with the 1-based probe count after each probe.
func (p *Popup) OnProbe(fn func(n int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onProbe = fn
}

func (p *Popup) Probe(context.Context) popup.Observation {
	p.mu.Lock()
	var obs popup.Observation
	switch {
	case p.probes < len(p.script):
		obs = p.script[p.probes]
	case len(p.script) > 0:
		obs = p.script[len(p.script)-1]
	default:
		obs = Blocked()
	}
	p.probes++
	n, fn := p.probes, p.onProbe
	p.mu.Unlock()
	if fn != nil {
		fn(n)
	}
	return obs
}

func (p *Popup) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return p.closeErr
}

// Probes returns how many times the popup was probed.
func (p *Popup) Probes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes
}

// Closes returns how many times Close was called.
func (p *Popup) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// Opener hands out a fixed popup and records every request.
type Opener struct {
	mu       sync.Mutex
	Popup    *Popup
	Err      error
	requests []popup.Request
}

// NewOpener returns an opener that always opens p.
func NewOpener(p *Popup) *Opener {
	return &Opener{Popup: p}
}

func (o *Opener) Open(_ context.Context, req popup.Request) (popup.Popup, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, req)
	if o.Err != nil {
		return nil, o.Err
	}
	if o.Popup == nil {
		// blocked by the browser
		return nil, nil
	}
	return o.Popup, nil
}

// SetPopup changes the popup handed out by later opens.
func (o *Opener) SetPopup(p *Popup) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Popup = p
}

// Requests returns the requests seen so far.
func (o *Opener) Requests() []popup.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]popup.Request(nil), o.requests...)
}

// Blocked is a cross-origin observation.
func Blocked() popup.Observation {
	return popup.Observation{Access: popup.Blocked}
}

// Denied is an engine denial with the given code.
func Denied(code int) popup.Observation {
	return popup.Observation{Access: popup.Denied, DenyCode: code}
}

// Closed is a closed-window observation.
func Closed() popup.Observation {
	return popup.Observation{Closed: true}
}

// Failed is an unexpected probe failure.
func Failed(err error) popup.Observation {
	return popup.Observation{Err: err}
}

// At is a readable observation at rawURL. It panics on an invalid URL.
func At(rawURL string) popup.Observation {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return popup.Observation{Access: popup.Readable, Location: u}
}
