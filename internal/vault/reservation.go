package vault

import (
	"sync"

	"github.com/scoutflo/flecsd-core/internal/vault/pouch"
)

// pouchSlot names one of the seven pouches, in the fixed canonical
// acquisition order the spec requires (spec §4.2, §8: "grabs are acquired
// in a fixed canonical order — no deadlock between any two concurrent
// callers with overlapping reservations").
type pouchSlot int

const (
	slotApps pouchSlot = iota
	slotInstances
	slotManifests
	slotDeployments
	slotProviders
	slotSecrets
	slotSessions
	slotCount
)

type wantKind int

const (
	wantNone wantKind = iota
	wantShared
	wantExclusive
)

// Reservation names which pouches a caller needs and whether each is
// needed shared or exclusive. Build one with Vault.Reserve() and its
// chainable ReserveXPouch()/ReserveXPouchMut() methods, then call Grab().
type Reservation struct {
	vault *Vault
	want  [slotCount]wantKind
}

// Reserve starts building a Reservation against v.
func (v *Vault) Reserve() *Reservation {
	return &Reservation{vault: v}
}

func (r *Reservation) set(slot pouchSlot, kind wantKind) *Reservation {
	if r.want[slot] < kind {
		r.want[slot] = kind
	}
	return r
}

func (r *Reservation) ReserveAppPouch() *Reservation         { return r.set(slotApps, wantShared) }
func (r *Reservation) ReserveAppPouchMut() *Reservation      { return r.set(slotApps, wantExclusive) }
func (r *Reservation) ReserveInstancePouch() *Reservation    { return r.set(slotInstances, wantShared) }
func (r *Reservation) ReserveInstancePouchMut() *Reservation { return r.set(slotInstances, wantExclusive) }
func (r *Reservation) ReserveManifestPouch() *Reservation    { return r.set(slotManifests, wantShared) }
func (r *Reservation) ReserveManifestPouchMut() *Reservation { return r.set(slotManifests, wantExclusive) }
func (r *Reservation) ReserveDeploymentPouch() *Reservation  { return r.set(slotDeployments, wantShared) }
func (r *Reservation) ReserveDeploymentPouchMut() *Reservation {
	return r.set(slotDeployments, wantExclusive)
}
func (r *Reservation) ReserveProviderPouch() *Reservation    { return r.set(slotProviders, wantShared) }
func (r *Reservation) ReserveProviderPouchMut() *Reservation { return r.set(slotProviders, wantExclusive) }
func (r *Reservation) ReserveSecretPouch() *Reservation      { return r.set(slotSecrets, wantShared) }
func (r *Reservation) ReserveSecretPouchMut() *Reservation   { return r.set(slotSecrets, wantExclusive) }
func (r *Reservation) ReserveSessionPouch() *Reservation     { return r.set(slotSessions, wantShared) }
func (r *Reservation) ReserveSessionPouchMut() *Reservation  { return r.set(slotSessions, wantExclusive) }

// GrabbedPouches holds the pouch pointers the caller requested; all other
// fields are left nil. Release() must be called (typically via defer) to
// release every lock this grab acquired.
type GrabbedPouches struct {
	locks []lockSlot

	Apps        *pouch.AppPouch
	Instances   *pouch.InstancePouch
	Manifests   *pouch.ManifestPouch
	Deployments *pouch.DeploymentPouch
	Providers   *pouch.ProviderPouch
	Secrets     *pouch.SecretPouch
	Sessions    *pouch.SessionPouch
}

type lockSlot struct {
	mu        *sync.RWMutex
	exclusive bool
}

// slots returns, in canonical order, the locks this reservation must
// acquire.
func (r *Reservation) slots() []lockSlot {
	v := r.vault
	mutexes := [slotCount]*sync.RWMutex{
		slotApps:        &v.appMu,
		slotInstances:   &v.instanceMu,
		slotManifests:   &v.manifestMu,
		slotDeployments: &v.deploymentMu,
		slotProviders:   &v.providerMu,
		slotSecrets:     &v.secretMu,
		slotSessions:    &v.sessionMu,
	}
	var out []lockSlot
	for slot := pouchSlot(0); slot < slotCount; slot++ {
		switch r.want[slot] {
		case wantExclusive:
			out = append(out, lockSlot{mu: mutexes[slot], exclusive: true})
		case wantShared:
			out = append(out, lockSlot{mu: mutexes[slot], exclusive: false})
		}
	}
	return out
}

// Grab atomically acquires every reserved pouch's lock in canonical order
// and returns a GrabbedPouches value populated with only the requested
// fields (spec §4.2).
func (r *Reservation) Grab() *GrabbedPouches {
	locks := r.slots()
	for _, l := range locks {
		if l.exclusive {
			l.mu.Lock()
		} else {
			l.mu.RLock()
		}
	}

	g := &GrabbedPouches{locks: locks}
	v := r.vault
	if r.want[slotApps] != wantNone {
		g.Apps = v.apps
	}
	if r.want[slotInstances] != wantNone {
		g.Instances = v.instances
	}
	if r.want[slotManifests] != wantNone {
		g.Manifests = v.manifests
	}
	if r.want[slotDeployments] != wantNone {
		g.Deployments = v.deployments
	}
	if r.want[slotProviders] != wantNone {
		g.Providers = v.providers
	}
	if r.want[slotSecrets] != wantNone {
		g.Secrets = v.secrets
	}
	if r.want[slotSessions] != wantNone {
		g.Sessions = v.sessions
	}
	return g
}

// Release releases every lock this grab acquired, in reverse canonical
// order.
func (g *GrabbedPouches) Release() {
	for i := len(g.locks) - 1; i >= 0; i-- {
		l := g.locks[i]
		if l.exclusive {
			l.mu.Unlock()
		} else {
			l.mu.RUnlock()
		}
	}
}
