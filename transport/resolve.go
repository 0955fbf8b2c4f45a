package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/sirupsen/logrus"
)

// ServiceType is the mDNS service a streaming server advertises on the
// LAN.
const ServiceType = "_chuffs-server._tcp"

// Resolver turns a configured server name into a dialable address. The
// lookup function is injectable for tests.
type Resolver struct {
	// Timeout bounds one resolution attempt.
	Timeout time.Duration

	// LookupHost overrides the DNS lookup; nil means the system
	// resolver.
	LookupHost func(ctx context.Context, host string) ([]string, error)
}

// Resolve resolves hostport ("host:port") to "ip:port". IP literals pass
// straight through.
func (r *Resolver) Resolve(hostport string) (string, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", fmt.Errorf("%w: %q needs a port", ErrResolve, hostport)
	}
	if ip := net.ParseIP(host); ip != nil {
		return hostport, nil
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	lookup := r.LookupHost
	if lookup == nil {
		lookup = net.DefaultResolver.LookupHost
	}

	addrs, err := lookup(ctx, host)
	if err != nil || len(addrs) == 0 {
		return "", fmt.Errorf("%w: %q: %v", ErrResolve, host, err)
	}

	logrus.WithFields(logrus.Fields{
		"host": host,
		"addr": addrs[0],
	}).Info("server resolved")

	return net.JoinHostPort(addrs[0], port), nil
}

// Discover browses the LAN for an advertised streaming server and
// returns the first one found as "ip:port". Used when no server address
// is configured.
func Discover(timeout time.Duration) (string, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	found := make(chan string, 1)

	go func() {
		for entry := range entries {
			if entry.AddrV4 == nil {
				continue
			}
			addr := net.JoinHostPort(entry.AddrV4.String(), fmt.Sprintf("%d", entry.Port))
			logrus.WithFields(logrus.Fields{
				"name": entry.Name,
				"addr": addr,
			}).Info("streaming server discovered")
			select {
			case found <- addr:
			default:
			}
		}
	}()

	params := &mdns.QueryParam{
		Service: ServiceType,
		Domain:  "local",
		Timeout: timeout,
		Entries: entries,
	}
	err := mdns.Query(params)
	close(entries)

	select {
	case addr := <-found:
		return addr, nil
	default:
	}
	if err != nil {
		return "", fmt.Errorf("%w: mdns: %v", ErrResolve, err)
	}
	return "", fmt.Errorf("%w: no server advertising %s", ErrResolve, ServiceType)
}
