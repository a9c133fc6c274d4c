package netstatus

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DefaultPollInterval is how often InterfaceSource re-reads the host's
// interfaces.
const DefaultPollInterval = 5 * time.Second

// InterfaceSource derives connectivity from the host's network interfaces:
// online when any non-loopback interface is up with a routable address.
// It cannot measure link quality, so Downlink and RTT stay unknown.
type InterfaceSource struct {
	Interval time.Duration

	// listFunc is injectable for tests; defaults to listInterfaces.
	listFunc func() ([]ifaceInfo, error)
}

type ifaceInfo struct {
	name     string
	up       bool
	loopback bool
	addrs    []net.IP
}

// Watch polls until ctx is canceled.
func (s *InterfaceSource) Watch(ctx context.Context, update func(Status)) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	list := s.listFunc
	if list == nil {
		list = listInterfaces
	}

	poll := func() error {
		ifaces, err := list()
		if err != nil {
			return fmt.Errorf("netstatus: listing interfaces: %w", err)
		}

		update(statusFromInterfaces(ifaces))

		return nil
	}

	if err := poll(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := poll(); err != nil {
				return err
			}
		}
	}
}

// Probe reads the interfaces once.
func (s *InterfaceSource) Probe(context.Context) (Status, error) {
	list := s.listFunc
	if list == nil {
		list = listInterfaces
	}

	ifaces, err := list()
	if err != nil {
		return Status{}, fmt.Errorf("netstatus: listing interfaces: %w", err)
	}

	return statusFromInterfaces(ifaces), nil
}

func statusFromInterfaces(ifaces []ifaceInfo) Status {
	for _, iface := range ifaces {
		if !iface.up || iface.loopback {
			continue
		}

		for _, ip := range iface.addrs {
			if ip.IsGlobalUnicast() || ip.IsPrivate() {
				return Status{Online: true, ConnectionType: ConnUnknown}
			}
		}
	}

	return Status{Online: false}
}

func listInterfaces() ([]ifaceInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]ifaceInfo, 0, len(ifaces))

	for _, iface := range ifaces {
		info := ifaceInfo{
			name:     iface.Name,
			up:       iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagRunning != 0,
			loopback: iface.Flags&net.FlagLoopback != 0,
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok {
				info.addrs = append(info.addrs, ipnet.IP)
			}
		}

		out = append(out, info)
	}

	return out, nil
}

// StaticSource reports a fixed status once and then waits for cancellation.
// Used when connectivity detection is disabled and in tests.
type StaticSource struct {
	Status Status
}

// Watch implements Source.
func (s StaticSource) Watch(ctx context.Context, update func(Status)) error {
	update(s.Status)
	<-ctx.Done()

	return ctx.Err()
}

// Probe implements Prober.
func (s StaticSource) Probe(context.Context) (Status, error) {
	return s.Status, nil
}
