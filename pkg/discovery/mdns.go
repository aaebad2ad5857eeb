package discovery

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Advertiser publishes a server on the network.
type Advertiser interface {
	// Advertise registers info, replacing any previous registration.
	Advertise(info *ServerInfo) error

	// Update replaces the TXT records of the current registration.
	Update(info *ServerInfo) error

	// Stop withdraws the registration.
	Stop()
}

// Browser finds servers on the network.
type Browser interface {
	// Browse streams servers as they are found. The channel is closed when
	// ctx is done.
	Browse(ctx context.Context) (<-chan *Service, error)

	// Resolve returns the server with the given instance name.
	Resolve(ctx context.Context, name string) (*Service, error)
}

// Config selects the interface and TTL used for mDNS.
type Config struct {
	// Interface restricts mDNS to one network interface. Empty means all.
	Interface string

	// TTL of advertised records (default DefaultTTL).
	TTL time.Duration
}

func (c Config) interfaces() []net.Interface {
	if c.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(c.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// MDNSAdvertiser implements Advertiser with zeroconf.
type MDNSAdvertiser struct {
	config Config

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewMDNSAdvertiser creates an advertiser. Nothing is sent until Advertise.
func NewMDNSAdvertiser(config Config) *MDNSAdvertiser {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	return &MDNSAdvertiser{config: config}
}

// Advertise registers info.
func (a *MDNSAdvertiser) Advertise(info *ServerInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	server, err := zeroconf.Register(
		info.Name,
		ServiceType,
		Domain,
		int(info.Port),
		TXTRecordsToStrings(EncodeTXT(info)),
		a.config.interfaces(),
		zeroconf.TTL(uint32(a.config.TTL.Seconds())),
	)
	if err != nil {
		return fmt.Errorf("register %s: %w", info.Name, err)
	}
	a.server = server
	return nil
}

// Update replaces the TXT records.
func (a *MDNSAdvertiser) Update(info *ServerInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return ErrNotAdvertising
	}
	a.server.SetText(TXTRecordsToStrings(EncodeTXT(info)))
	return nil
}

// Stop withdraws the registration. It is safe to call more than once.
func (a *MDNSAdvertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// MDNSBrowser implements Browser with zeroconf.
type MDNSBrowser struct {
	config Config
}

// NewMDNSBrowser creates a browser.
func NewMDNSBrowser(config Config) *MDNSBrowser {
	return &MDNSBrowser{config: config}
}

// Browse streams servers. Addresses from several interfaces are merged into
// one Service per instance; a Service is sent again when its address list
// grows.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan *Service, error) {
	out := make(chan *Service)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	var opts []zeroconf.ClientOption
	if ifaces := b.config.interfaces(); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}

	go func() {
		defer close(out)

		known := make(map[string]*Service)
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc := entryToService(entry)
				if prev, found := known[svc.InstanceName]; found {
					merged := mergeAddresses(prev.Addresses, svc.Addresses)
					if len(merged) == len(prev.Addresses) {
						continue
					}
					svc.Addresses = merged
				}
				known[svc.InstanceName] = svc
				cp := *svc
				cp.Addresses = slices.Clone(svc.Addresses)
				select {
				case out <- &cp:
				case <-ctx.Done():
					return
				}
			case entry, ok := <-removed:
				if !ok {
					removed = nil
					continue
				}
				if prev, found := known[entry.Instance]; found {
					prev.Addresses = removeAddresses(prev.Addresses, entry)
					if len(prev.Addresses) == 0 {
						delete(known, entry.Instance)
					}
				}
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
	}()

	return out, nil
}

// Resolve browses until the named instance answers or ctx is done. Without
// a deadline on ctx, DefaultResolveTimeout applies.
func (b *MDNSBrowser) Resolve(ctx context.Context, name string) (*Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultResolveTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	services, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for svc := range services {
		if svc.InstanceName == name && (len(svc.Addresses) > 0 || svc.Host != "") {
			return svc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func entryToService(entry *zeroconf.ServiceEntry) *Service {
	ips := append(slices.Clone(entry.AddrIPv4), entry.AddrIPv6...)
	return newService(entry.Instance, entry.HostName, entry.Port, ips, entry.Text)
}

func newService(instance, host string, port int, ips []net.IP, text []string) *Service {
	svc := &Service{
		InstanceName: instance,
		Host:         host,
		Port:         uint16(port),
		Addresses:    make([]string, 0, len(ips)),
	}
	for _, ip := range ips {
		svc.Addresses = append(svc.Addresses, ip.String())
	}
	decodeTXT(StringsToTXTRecords(text), svc)
	return svc
}

// mergeAddresses appends the addresses of add missing from existing.
func mergeAddresses(existing, add []string) []string {
	out := slices.Clone(existing)
	for _, a := range add {
		if !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	return out
}

func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	return withoutIPs(addresses, append(slices.Clone(entry.AddrIPv4), entry.AddrIPv6...))
}

func withoutIPs(addresses []string, ips []net.IP) []string {
	gone := make(map[string]bool, len(ips))
	for _, ip := range ips {
		gone[ip.String()] = true
	}
	return slices.DeleteFunc(addresses, func(a string) bool { return gone[a] })
}

var (
	_ Advertiser = (*MDNSAdvertiser)(nil)
	_ Browser    = (*MDNSBrowser)(nil)
)
