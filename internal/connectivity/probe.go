package connectivity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Masterminds/semver/v3"
	psnet "github.com/shirou/gopsutil/net"
)

// HealthStatus is the body served by the backend health endpoint.
type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// HealthProber probes the backend health endpoint directly. When a version constraint
// is configured, a backend reporting an incompatible API version counts as unreachable.
type HealthProber struct {
	url        string
	client     *http.Client
	constraint *semver.Constraints
}

// NewHealthProber creates a prober for url. minVersion may be empty to skip the version gate.
func NewHealthProber(url string, client *http.Client, minVersion string) (*HealthProber, error) {
	if client == nil {
		client = http.DefaultClient
	}
	p := &HealthProber{url: url, client: client}
	if minVersion != "" {
		c, err := semver.NewConstraint(">= " + minVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid minimum backend version %q: %w", minVersion, err)
		}
		p.constraint = c
	}
	return p, nil
}

func (p *HealthProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	if p.constraint == nil {
		return nil
	}

	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	version, err := semver.NewVersion(status.Version)
	if err != nil {
		return fmt.Errorf("backend reported invalid version %q: %w", status.Version, err)
	}
	if !p.constraint.Check(version) {
		return fmt.Errorf("backend version %s does not satisfy %s", version, p.constraint)
	}
	return nil
}

// InterfaceProber reports raw network reachability: at least one non-loopback
// interface that is up and has an address.
type InterfaceProber struct {
	interfaces func() ([]psnet.InterfaceStat, error)
}

// NewInterfaceProber creates a prober reading the host's network interfaces.
func NewInterfaceProber() *InterfaceProber {
	return &InterfaceProber{interfaces: func() ([]psnet.InterfaceStat, error) {
		return psnet.Interfaces()
	}}
}

func (p *InterfaceProber) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ifaces, err := p.interfaces()
	if err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if hasFlag(iface.Flags, "loopback") || !hasFlag(iface.Flags, "up") {
			continue
		}
		if len(iface.Addrs) > 0 {
			return nil
		}
	}
	return errors.New("no active network interface")
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// ConnectionChecker is satisfied by MQTT clients that report their link state.
type ConnectionChecker interface {
	IsConnectionOpen() bool
}

// MQTTProber treats an open broker connection as online.
type MQTTProber struct {
	client ConnectionChecker
}

// NewMQTTProber creates a prober backed by the broker connection state.
func NewMQTTProber(client ConnectionChecker) *MQTTProber {
	return &MQTTProber{client: client}
}

func (p *MQTTProber) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.client.IsConnectionOpen() {
		return errors.New("mqtt connection is not open")
	}
	return nil
}
