package netinfo

import (
	"net"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := map[string]Type{
		"eth0":    TypeWired,
		"enp0s3":  TypeWired,
		"wlan0":   TypeWireless,
		"lo":      TypeLocal,
		"veth123": TypeVirtual,
		"docker0": TypeBridge,
		"br-abcd": TypeBridge,
		"tun0":    TypeUnknown,
	}
	for name, want := range cases {
		if got := classify(name); got != want {
			t.Errorf("classify(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestNextFreeIPv4SkipsGatewayAndUnavailable(t *testing.T) {
	_, network, _ := net.ParseCIDR("172.21.0.0/28")
	access := Ipv4NetworkAccess{Network: network, Gateway: net.IPv4(172, 21, 0, 1)}

	unavailable := map[string]struct{}{"172.21.0.2": {}}
	ip, ok := access.NextFreeIPv4(unavailable)
	if !ok {
		t.Fatal("expected a free address")
	}
	if ip.String() != "172.21.0.3" {
		t.Fatalf("expected 172.21.0.3, got %s", ip)
	}
}

func TestNextFreeIPv4ExhaustedNetwork(t *testing.T) {
	_, network, _ := net.ParseCIDR("172.21.0.0/30") // addresses: .0 (net) .1 (gw) .2 .3 (bcast)
	access := Ipv4NetworkAccess{Network: network, Gateway: net.IPv4(172, 21, 0, 1)}
	unavailable := map[string]struct{}{"172.21.0.2": {}}

	if _, ok := access.NextFreeIPv4(unavailable); ok {
		t.Fatal("expected network to be exhausted")
	}
}

func TestGetReturnsNotFoundForUnknownAdapter(t *testing.T) {
	_, ok, err := Get("no-such-adapter-xyz")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ok=false for an adapter that does not exist")
	}
}

func TestReadCarrierDefaultsFalseWhenMissing(t *testing.T) {
	if readCarrier("no-such-adapter-xyz") {
		t.Fatal("expected false for a missing carrier file")
	}
}

func TestHexLittleEndianToIPv4(t *testing.T) {
	// 10.21.0.1 little-endian hex encoding, as /proc/net/route stores it.
	ip, err := hexLittleEndianToIPv4("0100150A")
	if err != nil {
		t.Fatal(err)
	}
	if ip.String() != "10.21.0.1" {
		t.Fatalf("unexpected decode: %s", ip)
	}
}
