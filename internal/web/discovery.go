package web

import (
	"fmt"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/cjeanneret/MiMo/internal/debug"
)

// mDNS service identity of the web console.
const (
	ServiceType   = "_mimo._tcp"
	ServiceDomain = "local."
)

type shutdowner interface{ Shutdown() }

// Advertiser publishes the web console over mDNS so hosts can find the mount.
type Advertiser struct {
	mu       sync.Mutex
	instance string
	port     int
	text     []string
	server   shutdowner
	register func() (shutdowner, error)
}

// NewAdvertiser prepares an advertisement for instance on port.
func NewAdvertiser(instance string, port int, text ...string) *Advertiser {
	a := &Advertiser{instance: instance, port: port, text: text}
	a.register = func() (shutdowner, error) {
		return zeroconf.Register(a.instance, ServiceType, ServiceDomain, a.port, a.text, nil)
	}
	return a
}

// Start registers the service. Calling Start twice is a no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}
	if a.instance == "" {
		return fmt.Errorf("mdns: instance name is empty")
	}
	if a.port <= 0 || a.port > 65535 {
		return fmt.Errorf("mdns: invalid port %d", a.port)
	}
	server, err := a.register()
	if err != nil {
		return fmt.Errorf("mdns: register %s: %w", ServiceType, err)
	}
	a.server = server
	debug.Info("mDNS: advertising %q as %s.%s port %d", a.instance, ServiceType, ServiceDomain, a.port)
	return nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	debug.Verbose("mDNS: advertisement stopped")
}
