package vault

import (
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/manifest"
)

func newTestVault() *Vault {
	return New(afero.NewMemMapFs(), "/flecs")
}

func TestGrabPopulatesOnlyRequestedFields(t *testing.T) {
	v := newTestVault()
	g := v.Reserve().ReserveAppPouchMut().Grab()
	defer g.Release()

	t.Run("requested pouch is populated", func(t *testing.T) {
		if g.Apps == nil {
			t.Fatal("expected Apps to be populated")
		}
	})
	t.Run("unrequested pouches stay nil", func(t *testing.T) {
		if g.Instances != nil || g.Manifests != nil || g.Deployments != nil ||
			g.Providers != nil || g.Secrets != nil || g.Sessions != nil {
			t.Fatal("expected only Apps to be populated")
		}
	})
}

func TestOverlappingReservationsDoNotDeadlock(t *testing.T) {
	v := newTestVault()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := v.Reserve().ReserveAppPouchMut().ReserveInstancePouchMut().ReserveSecretPouch().Grab()
			time.Sleep(time.Millisecond)
			g.Release()
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := v.Reserve().ReserveSecretPouch().ReserveInstancePouchMut().ReserveAppPouchMut().Grab()
			time.Sleep(time.Millisecond)
			g.Release()
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock: overlapping reservations did not complete")
	}
}

func TestOpenCloseRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	v := New(fs, "/flecs")
	if err := v.Open(); err != nil {
		t.Fatalf("open on empty dir failed: %v", err)
	}

	key := manifest.AppKey{Name: "io.test.app", Version: "1.0.0"}
	m := &manifest.AppManifest{Key: key, Kind: manifest.KindSingle, Single: &manifest.Single{Image: "registry/io.test.app"}}
	g := v.Reserve().ReserveAppPouchMut().ReserveManifestPouchMut().Grab()
	g.Apps.Put(&core.App{Key: key, Manifest: m, Installs: map[core.DeploymentID]*core.DeploymentInstallState{}})
	g.Manifests.Put(m)
	g.Release()

	if err := v.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	v2 := New(fs, "/flecs")
	if err := v2.Open(); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	g2 := v2.Reserve().ReserveAppPouch().Grab()
	defer g2.Release()
	app, ok := g2.Apps.Get(key)
	if !ok {
		t.Fatalf("app %s not found after reopen", key)
	}
	if app.Manifest.Single.Image != "registry/io.test.app" {
		t.Fatalf("unexpected image after round-trip: %s", app.Manifest.Single.Image)
	}
}

func TestCorruptFileIsSkippedNotFatal(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/flecs/apps", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "/flecs/apps/broken.json", []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	v := New(fs, "/flecs")
	if err := v.Open(); err != nil {
		t.Fatalf("open should tolerate a corrupt file, got: %v", err)
	}
}
