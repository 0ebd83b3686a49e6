package v2

import (
	"net/http"

	"github.com/scoutflo/flecsd-core/internal/ferr"
	"github.com/scoutflo/flecsd-core/internal/netinfo"
)

type networkAdapterDTO struct {
	Name          string   `json:"name"`
	NetType       string   `json:"net_type"`
	MACAddress    string   `json:"mac_address,omitempty"`
	IPv4Addresses []string `json:"ipv4_addresses,omitempty"`
	IPv6Addresses []string `json:"ipv6_addresses,omitempty"`
	Networks      []string `json:"networks,omitempty"`
	Gateway       string   `json:"gateway,omitempty"`
	IsConnected   bool     `json:"is_connected"`
}

func toNetworkAdapterDTO(a netinfo.Adapter) networkAdapterDTO {
	return networkAdapterDTO{
		Name: a.Name, NetType: string(a.Type), MACAddress: a.MAC,
		IPv4Addresses: a.IPv4Addresses, IPv6Addresses: a.IPv6Addresses,
		Networks: a.Networks, Gateway: a.Gateway, IsConnected: a.Connected,
	}
}

// getNetworkAdapter handles `GET /v2/system/network_adapters/{id}`.
func (s *Server) getNetworkAdapter(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("id")
	adapter, found, err := netinfo.Get(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeTaxonomyError(w, ferr.NotFound("network adapter", name))
		return
	}
	writeJSON(w, http.StatusOK, toNetworkAdapterDTO(adapter))
}

// listNetworkAdapters handles `GET /v2/system/network_adapters`.
func (s *Server) listNetworkAdapters(w http.ResponseWriter, r *http.Request) {
	adapters, err := netinfo.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]networkAdapterDTO, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, toNetworkAdapterDTO(a))
	}
	writeJSON(w, http.StatusOK, out)
}
