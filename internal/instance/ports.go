// Package instance implements the per-instance configuration engine: port
// mapping, USB passthrough, network attachment, and the start/stop/update
// state machine the sorcerer façade drives (spec §4.3).
package instance

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/ferr"
	"github.com/scoutflo/flecsd-core/internal/manifest"
)

// ParsePortRange parses the path-segment form spec §6 describes for
// port-mapping CRUD: "N" or "N-M", 1 <= N <= M <= 65535.
func ParsePortRange(spec string) (core.PortRange, error) {
	lo, hi, found := strings.Cut(spec, "-")
	loN, err := strconv.Atoi(lo)
	if err != nil {
		return core.PortRange{}, ferr.ConfigInvalidf("invalid port range %q", spec)
	}
	hiN := loN
	if found {
		hiN, err = strconv.Atoi(hi)
		if err != nil {
			return core.PortRange{}, ferr.ConfigInvalidf("invalid port range %q", spec)
		}
	}
	if loN < 1 || hiN > 65535 || loN > hiN {
		return core.PortRange{}, ferr.ConfigInvalidf("port range %q out of bounds 1..65535", spec)
	}
	return core.PortRange{Start: loN, End: hiN}, nil
}

// overlaps reports whether two host-port spans intersect.
func overlaps(a, b core.PortRange) bool {
	return a.Start <= b.End && b.Start <= a.End
}

// equalMapping reports whether two mappings describe the identical binding,
// used to treat re-insertion of an unchanged mapping as an idempotent no-op
// rather than a conflict.
func equalMapping(a, b core.PortMapping) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == core.PortMappingSingle {
		return a.Host == b.Host && a.Container == b.Container
	}
	return a.From == b.From && a.To == b.To
}

// ValidatePortMapping checks candidate against the instance's existing
// mappings for protocol proto (spec §8: host-port sets pairwise disjoint
// per protocol). An exact duplicate of an existing mapping is accepted as a
// no-op; any other overlap is rejected.
func ValidatePortMapping(existing []core.PortMapping, candidate core.PortMapping) error {
	if candidate.Kind == core.PortMappingRange {
		if candidate.From.Size() != candidate.To.Size() {
			return ferr.ConfigInvalidf("port range sizes must match: host %d, container %d",
				candidate.From.Size(), candidate.To.Size())
		}
	}
	for _, m := range existing {
		if equalMapping(m, candidate) {
			return nil
		}
		if overlaps(m.HostRange(), candidate.HostRange()) {
			return ferr.ConfigInvalidf("host port range %v overlaps existing mapping %v", candidate.HostRange(), m.HostRange())
		}
	}
	return nil
}

// AddPortMapping validates and inserts candidate into cfg for proto,
// replacing an exact duplicate in place (idempotent).
func AddPortMapping(cfg *core.InstanceConfig, proto manifest.Protocol, candidate core.PortMapping) error {
	existing := cfg.PortMapping[proto]
	if err := ValidatePortMapping(existing, candidate); err != nil {
		return err
	}
	for i, m := range existing {
		if equalMapping(m, candidate) {
			existing[i] = candidate
			cfg.PortMapping[proto] = existing
			return nil
		}
	}
	cfg.PortMapping[proto] = append(existing, candidate)
	return nil
}

// RemovePortMapping deletes any mapping on proto whose host range matches
// rng exactly.
func RemovePortMapping(cfg *core.InstanceConfig, proto manifest.Protocol, rng core.PortRange) error {
	existing := cfg.PortMapping[proto]
	for i, m := range existing {
		if m.HostRange() == rng {
			cfg.PortMapping[proto] = append(existing[:i], existing[i+1:]...)
			return nil
		}
	}
	return ferr.NotFound("port mapping", fmt.Sprintf("%s %d-%d", proto, rng.Start, rng.End))
}
