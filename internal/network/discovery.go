// Package network provides the UDP and WebSocket transports and LAN discovery.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"
)

// ServiceName is reported by /health and used to recognise devicesim servers
const ServiceName = "devicesim"

// DiscoveredHost represents a devicesim instance found on the network
type DiscoveredHost struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Hostname string `json:"hostname,omitempty"`
	Version  string `json:"version,omitempty"`
	Paused   bool   `json:"paused"`
}

// HealthResponse is the body served on /health
type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Version  string `json:"version"`
	Hostname string `json:"hostname,omitempty"`
	Paused   bool   `json:"paused"`
}

// probeConcurrency bounds the number of in-flight /health requests
const probeConcurrency = 64

// subnets returns the distinct /24 prefixes of the local IPv4 addresses
func subnets(ips []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, ip := range ips {
		parsed := net.ParseIP(ip).To4()
		if parsed == nil {
			continue
		}
		prefix := fmt.Sprintf("%d.%d.%d", parsed[0], parsed[1], parsed[2])
		if !seen[prefix] {
			seen[prefix] = true
			out = append(out, prefix)
		}
	}
	return out
}

// ScanLAN probes every /24 attached to a local interface for devicesim
// servers listening on port. Results are sorted by IP.
func ScanLAN(ctx context.Context, port int) ([]DiscoveredHost, error) {
	localIPs, err := GetLocalIPs()
	if err != nil {
		return nil, fmt.Errorf("failed to list local addresses: %w", err)
	}
	prefixes := subnets(localIPs)
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("no IPv4 network attached")
	}

	self := make(map[string]bool, len(localIPs))
	for _, ip := range localIPs {
		self[ip] = true
	}

	var (
		hosts []DiscoveredHost
		mu    sync.Mutex
		wg    sync.WaitGroup
		sem   = make(chan struct{}, probeConcurrency)
	)

scan:
	for _, prefix := range prefixes {
		for i := 1; i <= 254; i++ {
			ip := fmt.Sprintf("%s.%d", prefix, i)
			if self[ip] {
				continue
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				break scan
			}

			wg.Add(1)
			go func() {
				defer func() {
					<-sem
					wg.Done()
				}()
				if host, ok := probeHost(ctx, ip, port); ok {
					mu.Lock()
					hosts = append(hosts, host)
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()

	sort.Slice(hosts, func(i, j int) bool {
		return bytes.Compare(net.ParseIP(hosts[i].IP).To16(), net.ParseIP(hosts[j].IP).To16()) < 0
	})
	return hosts, ctx.Err()
}

// probeHost checks if ip:port answers /health as a devicesim server
func probeHost(ctx context.Context, ip string, port int) (DiscoveredHost, bool) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	healthURL := fmt.Sprintf("http://%s/health", net.JoinHostPort(ip, fmt.Sprint(port)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return DiscoveredHost{}, false
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return DiscoveredHost{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return DiscoveredHost{}, false
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil || health.Service != ServiceName {
		return DiscoveredHost{}, false
	}

	return DiscoveredHost{
		IP:       ip,
		Port:     port,
		Hostname: health.Hostname,
		Version:  health.Version,
		Paused:   health.Paused,
	}, true
}

// GetLocalIPs returns the IPv4 addresses of every interface that is up,
// excluding loopback
func GetLocalIPs() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if v4 := ipnet.IP.To4(); v4 != nil && !v4.IsLoopback() {
				ips = append(ips, v4.String())
			}
		}
	}
	return ips, nil
}
