package instance

import (
	"context"
	"net"
	"testing"

	"github.com/scoutflo/flecsd-core/internal/core"
)

func testNetwork() core.Network {
	_, cidr, _ := net.ParseCIDR("172.21.0.0/29")
	return core.Network{
		ID: "net-1", Name: "flecs", Kind: core.NetworkBridge,
		CIDR: cidr, Gateway: net.IPv4(172, 21, 0, 1),
	}
}

func TestAttachNetworkAllocatesAndRecordsIP(t *testing.T) {
	engine, instances, _, _, _, id := setup(t)

	ip, err := engine.AttachNetwork(context.Background(), instances, id, testNetwork())
	if err != nil {
		t.Fatalf("AttachNetwork: %v", err)
	}
	if ip == "" || ip == "172.21.0.1" {
		t.Fatalf("expected a non-gateway address, got %q", ip)
	}

	inst, _ := instances.Get(id)
	if inst.Config.Networks["net-1"] != ip {
		t.Fatalf("expected recorded IP %q, got %q", ip, inst.Config.Networks["net-1"])
	}
	if !instances.IsIPReserved("net-1", ip) {
		t.Fatalf("expected %q to be reserved", ip)
	}
}

func TestAttachNetworkSkipsAlreadyReservedAddresses(t *testing.T) {
	engine, instances, _, _, _, id := setup(t)
	net1 := testNetwork()

	first, err := engine.AttachNetwork(context.Background(), instances, id, net1)
	if err != nil {
		t.Fatalf("first AttachNetwork: %v", err)
	}

	existing, ok := instances.Get(id)
	if !ok {
		t.Fatalf("expected instance %s to exist", id)
	}
	otherID := core.NewInstanceID()
	instances.Put(&core.Instance{
		ID: otherID, Name: "t2", AppKey: existing.AppKey,
		DeploymentID: "dep-1", Variant: core.VariantDocker, Status: core.StatusCreated,
		Config: core.NewInstanceConfig(),
	})

	second, err := engine.AttachNetwork(context.Background(), instances, otherID, net1)
	if err != nil {
		t.Fatalf("second AttachNetwork: %v", err)
	}
	if second == first {
		t.Fatalf("expected a distinct address, got %q twice", first)
	}
}

func TestAttachNetworkFailsWithoutCIDR(t *testing.T) {
	engine, instances, _, _, _, id := setup(t)

	_, err := engine.AttachNetwork(context.Background(), instances, id, core.Network{ID: "net-1", Name: "flecs"})
	if err == nil {
		t.Fatal("expected an error for a network with no CIDR/gateway")
	}
}

func TestDetachNetworkReleasesReservation(t *testing.T) {
	engine, instances, _, _, _, id := setup(t)
	net1 := testNetwork()

	ip, err := engine.AttachNetwork(context.Background(), instances, id, net1)
	if err != nil {
		t.Fatalf("AttachNetwork: %v", err)
	}

	if err := engine.DetachNetwork(context.Background(), instances, id, net1.ID); err != nil {
		t.Fatalf("DetachNetwork: %v", err)
	}

	if instances.IsIPReserved("net-1", ip) {
		t.Fatalf("expected %q to be released", ip)
	}
	inst, _ := instances.Get(id)
	if _, ok := inst.Config.Networks["net-1"]; ok {
		t.Fatalf("expected network entry removed from instance config")
	}
}
