// Package netinfo enumerates the host's network adapters and offers the
// IPv4 address-allocation arithmetic the instance engine uses to assign
// container addresses (spec §4.3/§4.5, grounded on the original's
// relic::network module).
package netinfo

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Type classifies an adapter by its kernel-assigned name prefix, mirroring
// the original's NetType::from(&str) heuristic.
type Type string

const (
	TypeUnknown  Type = "Unknown"
	TypeWired    Type = "Wired"
	TypeWireless Type = "Wireless"
	TypeLocal    Type = "Local"
	TypeBridge   Type = "Bridge"
	TypeVirtual  Type = "Virtual"
)

func classify(name string) Type {
	switch {
	case strings.HasPrefix(name, "en"), strings.HasPrefix(name, "eth"):
		return TypeWired
	case strings.HasPrefix(name, "wl"):
		return TypeWireless
	case strings.HasPrefix(name, "lo"):
		return TypeLocal
	case strings.HasPrefix(name, "veth"):
		return TypeVirtual
	case strings.HasPrefix(name, "br"), strings.HasPrefix(name, "docker"):
		return TypeBridge
	default:
		return TypeUnknown
	}
}

// Adapter is one host network adapter's observed state.
type Adapter struct {
	Name          string
	Type          Type
	MAC           string
	IPv4Addresses []string
	IPv6Addresses []string
	Networks      []string
	Gateway       string
	Connected     bool
}

// List enumerates every adapter visible via net.Interfaces, augmented with
// each adapter's default-route gateway read from /proc/net/route and its
// carrier state read from /sys/class/net/<name>/carrier.
func List() ([]Adapter, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("netinfo: list interfaces: %w", err)
	}
	gateways, err := defaultGateways()
	if err != nil {
		// The route table is Linux-only; absence is tolerated (spec's
		// adapter enumeration degrades gracefully rather than failing the
		// whole call).
		gateways = map[string]string{}
	}

	out := make([]Adapter, 0, len(ifaces))
	for _, iface := range ifaces {
		out = append(out, buildAdapter(iface, gateways))
	}
	return out, nil
}

// Get returns the single adapter named name, or false if no such interface
// exists (the HTTP layer maps that to a 404, matching the original's
// read_network_adapter -> Ok(None) contract).
func Get(name string) (Adapter, bool, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		// net.InterfaceByName's only failure mode in practice is "no such
		// network interface"; treat any lookup failure as not-found.
		return Adapter{}, false, nil
	}
	gateways, err := defaultGateways()
	if err != nil {
		gateways = map[string]string{}
	}
	return buildAdapter(*iface, gateways), true, nil
}

func buildAdapter(iface net.Interface, gateways map[string]string) Adapter {
	a := Adapter{Name: iface.Name, Type: classify(iface.Name), MAC: iface.HardwareAddr.String()}
	addrs, err := iface.Addrs()
	if err == nil {
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if v4 := ipNet.IP.To4(); v4 != nil {
				a.IPv4Addresses = append(a.IPv4Addresses, v4.String())
			} else {
				a.IPv6Addresses = append(a.IPv6Addresses, ipNet.IP.String())
			}
			a.Networks = append(a.Networks, ipNet.String())
		}
	}
	a.Gateway = gateways[iface.Name]
	a.Connected = readCarrier(iface.Name)
	return a
}

// readCarrier reports the interface's link state from its sysfs carrier
// file, defaulting to false (matching the original's is_connected, which
// treats a missing/unreadable carrier file as disconnected).
func readCarrier(name string) bool {
	data, err := os.ReadFile(fmt.Sprintf("/sys/class/net/%s/carrier", name))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}

// defaultGateways parses /proc/net/route for the default (all-zero
// destination) route of every interface, keyed by interface name.
func defaultGateways() (map[string]string, error) {
	f, err := os.Open("/proc/net/route")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gateways := map[string]string{}
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false // header line
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		iface, destHex, gwHex := fields[0], fields[1], fields[2]
		if destHex != "00000000" {
			continue
		}
		gw, err := hexLittleEndianToIPv4(gwHex)
		if err != nil {
			continue
		}
		gateways[iface] = gw.String()
	}
	return gateways, scanner.Err()
}

func hexLittleEndianToIPv4(hexStr string) (net.IP, error) {
	v, err := strconv.ParseUint(hexStr, 16, 32)
	if err != nil {
		return nil, err
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return net.IPv4(b[0], b[1], b[2], b[3]), nil
}

// Ipv4NetworkAccess is an IPv4 CIDR paired with its gateway, mirroring the
// original's Ipv4NetworkAccess: the unit the instance engine's network
// attach/detach path allocates addresses from.
type Ipv4NetworkAccess struct {
	Network *net.IPNet
	Gateway net.IP
}

// NextFreeIPv4 returns the smallest address in the network (starting at
// network-base + 2, mirroring the original's reservation of .0 and .1) that
// is neither the gateway nor in unavailable, or false if the network is
// exhausted.
func (a Ipv4NetworkAccess) NextFreeIPv4(unavailable map[string]struct{}) (net.IP, bool) {
	base := a.Network.IP.To4()
	if base == nil {
		return nil, false
	}
	ones, bits := a.Network.Mask.Size()
	total := uint32(1) << uint(bits-ones)
	start := ipv4ToUint32(base) + 2
	broadcast := ipv4ToUint32(base) + total - 1
	gw := ipv4ToUint32(a.Gateway.To4())

	for v := start; v < broadcast; v++ {
		ip := uint32ToIPv4(v)
		if v == gw {
			continue
		}
		if _, taken := unavailable[ip.String()]; taken {
			continue
		}
		return ip, true
	}
	return nil, false
}

func ipv4ToUint32(ip net.IP) uint32 {
	return binary.BigEndian.Uint32(ip.To4())
}

func uint32ToIPv4(v uint32) net.IP {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return net.IPv4(b[0], b[1], b[2], b[3])
}
