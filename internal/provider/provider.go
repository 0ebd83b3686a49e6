// Package provider formalizes the provider/feature dependency checks that
// guard instance and app deletion (spec §4.7, §8), built on top of
// vault/pouch's ProviderPouch and InstancePouch bookkeeping.
package provider

import (
	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/ferr"
	"github.com/scoutflo/flecsd-core/internal/vault/pouch"
)

// Dependents returns the IDs of every non-finished instance that depends on
// provider through any feature, for callers that need to name the blockers
// rather than merely refuse the delete.
func Dependents(instances *pouch.InstancePouch, providerID core.InstanceID) []core.InstanceID {
	var out []core.InstanceID
	for _, other := range instances.List() {
		if other.ID == providerID || other.Status.IsFinished() {
			continue
		}
		for _, ref := range other.Dependencies {
			if ref.Kind == core.ProviderKindInstance && ref.Provider == providerID {
				out = append(out, other.ID)
				break
			}
		}
	}
	return out
}

// CheckDeletable returns a Conflict error naming why providerID must not be
// deleted: it is pinned as a default/core-auth provider, or a living
// instance still depends on it. Returns nil if the delete may proceed.
func CheckDeletable(instances *pouch.InstancePouch, providers *pouch.ProviderPouch, providerID core.InstanceID) error {
	if providers.IsPinned(providerID) {
		return ferr.Conflictf("instance %s is a pinned default/core-auth provider", providerID)
	}
	if dependents := Dependents(instances, providerID); len(dependents) > 0 {
		return ferr.Conflictf("instance %s is still depended on by living instance %s", providerID, dependents[0])
	}
	return nil
}

// CheckAppDeletable reports whether any install of app (by any of its
// instance IDs) may not yet be deleted, for the app-uninstall refusal path
// (spec §4.6's "refuse uninstall while a consumer depends on one of the
// app's instances").
func CheckAppDeletable(instances *pouch.InstancePouch, providers *pouch.ProviderPouch, appInstances []core.InstanceID) error {
	for _, id := range appInstances {
		if err := CheckDeletable(instances, providers, id); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseProviderState removes instance's provided-features bookkeeping and,
// for each feature it is registered as providing, the default-provider entry
// if it points at instance. The core-auth pin is not cleared. Called
// once a delete has actually been committed to the deployment adapter.
func ReleaseProviderState(providers *pouch.ProviderPouch, instance core.InstanceID) {
	for _, feature := range providers.FeaturesOf(instance) {
		providers.ClearDefaultProvider(feature, instance)
		providers.UnregisterProvider(instance, feature)
	}
}
