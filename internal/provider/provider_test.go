package provider

import (
	"testing"

	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/ferr"
	"github.com/scoutflo/flecsd-core/internal/vault/pouch"
)

func TestCheckDeletableAllowsUnpinnedUndepended(t *testing.T) {
	instances := pouch.NewInstancePouch()
	providers := pouch.NewProviderPouch()
	id := core.NewInstanceID()
	instances.Put(&core.Instance{ID: id, Status: core.StatusStopped})

	if err := CheckDeletable(instances, providers, id); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestCheckDeletableRefusesDefaultProvider(t *testing.T) {
	instances := pouch.NewInstancePouch()
	providers := pouch.NewProviderPouch()
	id := core.NewInstanceID()
	instances.Put(&core.Instance{ID: id, Status: core.StatusRunning})
	providers.SetDefaultProvider("auth", id)

	err := CheckDeletable(instances, providers, id)
	if !ferr.Is(err, ferr.KindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestCheckDeletableRefusesCoreAuthProvider(t *testing.T) {
	instances := pouch.NewInstancePouch()
	providers := pouch.NewProviderPouch()
	id := core.NewInstanceID()
	instances.Put(&core.Instance{ID: id, Status: core.StatusRunning})
	providers.SetCoreAuthProvider(id)

	err := CheckDeletable(instances, providers, id)
	if !ferr.Is(err, ferr.KindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestCheckDeletableRefusesWhenDependentIsLiving(t *testing.T) {
	instances := pouch.NewInstancePouch()
	providers := pouch.NewProviderPouch()
	id := core.NewInstanceID()
	dependent := core.NewInstanceID()
	instances.Put(&core.Instance{ID: id, Status: core.StatusRunning})
	instances.Put(&core.Instance{
		ID: dependent, Status: core.StatusRunning,
		Dependencies: map[string]core.ProviderReference{
			"auth": {Kind: core.ProviderKindInstance, Provider: id},
		},
	})

	err := CheckDeletable(instances, providers, id)
	if !ferr.Is(err, ferr.KindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestCheckDeletableIgnoresFinishedDependents(t *testing.T) {
	instances := pouch.NewInstancePouch()
	providers := pouch.NewProviderPouch()
	id := core.NewInstanceID()
	dependent := core.NewInstanceID()
	instances.Put(&core.Instance{ID: id, Status: core.StatusRunning})
	instances.Put(&core.Instance{
		ID: dependent, Status: core.StatusNotCreated,
		Dependencies: map[string]core.ProviderReference{
			"auth": {Kind: core.ProviderKindInstance, Provider: id},
		},
	})

	if err := CheckDeletable(instances, providers, id); err != nil {
		t.Fatalf("expected finished dependents to not block delete, got %v", err)
	}
}

func TestCheckAppDeletableRefusesIfAnyInstanceBlocked(t *testing.T) {
	instances := pouch.NewInstancePouch()
	providers := pouch.NewProviderPouch()
	free := core.NewInstanceID()
	pinned := core.NewInstanceID()
	instances.Put(&core.Instance{ID: free, Status: core.StatusStopped})
	instances.Put(&core.Instance{ID: pinned, Status: core.StatusRunning})
	providers.SetCoreAuthProvider(pinned)

	err := CheckAppDeletable(instances, providers, []core.InstanceID{free, pinned})
	if !ferr.Is(err, ferr.KindConflict) {
		t.Fatalf("expected Conflict from the pinned instance, got %v", err)
	}
}

func TestReleaseProviderStateClearsDefaultAndRegistration(t *testing.T) {
	providers := pouch.NewProviderPouch()
	id := core.NewInstanceID()
	providers.RegisterProvider(id, "auth")
	providers.SetDefaultProvider("auth", id)

	ReleaseProviderState(providers, id)

	if _, ok := providers.DefaultProvider("auth"); ok {
		t.Fatal("expected default provider entry to be cleared")
	}
	if providers.Provides(id, "auth") {
		t.Fatal("expected provider registration to be removed")
	}
}
