package instance

import (
	"context"

	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/ferr"
	"github.com/scoutflo/flecsd-core/internal/netinfo"
	"github.com/scoutflo/flecsd-core/internal/vault/pouch"
)

// AttachNetwork allocates the smallest free IPv4 address on net (skipping
// the gateway and every address InstancePouch has already reserved),
// connects the instance's container to it, and records the reservation
// (spec §4.3/§4.5).
func (e *Engine) AttachNetwork(ctx context.Context, instances *pouch.InstancePouch, id core.InstanceID, netCfg core.Network) (string, error) {
	inst, ok := instances.Get(id)
	if !ok {
		return "", ferr.NotFound("instance", id.String())
	}
	if netCfg.CIDR == nil || netCfg.Gateway == nil {
		return "", ferr.ConfigInvalidf("network %s has no CIDR/gateway configured", netCfg.Name)
	}

	access := netinfo.Ipv4NetworkAccess{Network: netCfg.CIDR, Gateway: netCfg.Gateway}
	ip, ok := access.NextFreeIPv4(reservedSet(instances, netCfg.ID))
	if !ok {
		return "", ferr.Conflictf("network %s has no free addresses", netCfg.Name)
	}

	adapter, err := e.adapterFor(inst)
	if err != nil {
		return "", err
	}
	if err := adapter.ConnectNetwork(ctx, netCfg.ID, ip.String(), id); err != nil {
		return "", err
	}

	if inst.Config == nil {
		inst.Config = core.NewInstanceConfig()
	}
	inst.Config.Networks[netCfg.ID] = ip.String()
	instances.Put(inst)
	instances.ReserveIP(netCfg.ID, ip.String())
	return ip.String(), nil
}

// DetachNetwork disconnects the instance from net and releases its IP
// reservation.
func (e *Engine) DetachNetwork(ctx context.Context, instances *pouch.InstancePouch, id core.InstanceID, netID core.NetworkID) error {
	inst, ok := instances.Get(id)
	if !ok {
		return ferr.NotFound("instance", id.String())
	}
	adapter, err := e.adapterFor(inst)
	if err != nil {
		return err
	}
	if err := adapter.DisconnectNetwork(ctx, netID, id); err != nil {
		return err
	}
	if inst.Config != nil {
		if ip, ok := inst.Config.Networks[netID]; ok {
			instances.ClearIP(netID, ip)
			delete(inst.Config.Networks, netID)
		}
	}
	instances.Put(inst)
	return nil
}

// reservedSet builds the set of addresses on netID currently reserved by any
// instance, for the IP-allocation scan.
func reservedSet(instances *pouch.InstancePouch, netID core.NetworkID) map[string]struct{} {
	out := map[string]struct{}{}
	for _, inst := range instances.List() {
		if inst.Config == nil {
			continue
		}
		if ip, ok := inst.Config.Networks[netID]; ok {
			out[ip] = struct{}{}
		}
	}
	return out
}
