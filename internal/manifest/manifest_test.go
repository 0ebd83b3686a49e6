package manifest

import (
	"testing"
)

func TestAppKeyValidateRejectsBadNames(t *testing.T) {
	cases := []struct {
		name    string
		key     AppKey
		wantErr bool
	}{
		{"valid reverse-dns name", AppKey{Name: "io.test.app", Version: "1.0.0"}, false},
		{"uppercase rejected", AppKey{Name: "IO.Test.App", Version: "1.0.0"}, true},
		{"empty version rejected", AppKey{Name: "io.test.app", Version: ""}, true},
		{"single-char segment rejected", AppKey{Name: "a", Version: "1.0.0"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.key.Validate()
			if (err != nil) != c.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}

func TestAppManifestValidateSingle(t *testing.T) {
	m := &AppManifest{
		Key:  AppKey{Name: "io.test.app", Version: "1.0.0"},
		Kind: KindSingle,
		Single: &Single{
			Image:        "registry/io.test.app:1.0.0",
			Capabilities: []Capability{CapNetAdmin},
			Editors:      []Editor{{Name: "ui", Port: 8080}},
		},
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate(): %v", err)
	}
}

func TestAppManifestValidateRejectsUnknownCapability(t *testing.T) {
	m := &AppManifest{
		Key:    AppKey{Name: "io.test.app", Version: "1.0.0"},
		Kind:   KindSingle,
		Single: &Single{Image: "registry/io.test.app:1.0.0", Capabilities: []Capability{"NOT_A_CAP"}},
	}
	if err := m.Validate(); err == nil {
		t.Fatal("expected an error for an unknown capability")
	}
}

func TestAppManifestValidateRejectsOutOfRangeEditorPort(t *testing.T) {
	m := &AppManifest{
		Key:    AppKey{Name: "io.test.app", Version: "1.0.0"},
		Kind:   KindSingle,
		Single: &Single{Image: "registry/io.test.app:1.0.0", Editors: []Editor{{Name: "ui", Port: 70000}}},
	}
	if err := m.Validate(); err == nil {
		t.Fatal("expected an error for an out-of-range editor port")
	}
}

func TestAppManifestValidateAcceptsDigestPinnedImage(t *testing.T) {
	m := &AppManifest{
		Key:  AppKey{Name: "io.test.app", Version: "1.0.0"},
		Kind: KindSingle,
		Single: &Single{
			Image: "registry/io.test.app@sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate(): %v", err)
	}
}

func TestAppManifestValidateRejectsMalformedDigest(t *testing.T) {
	m := &AppManifest{
		Key:    AppKey{Name: "io.test.app", Version: "1.0.0"},
		Kind:   KindSingle,
		Single: &Single{Image: "registry/io.test.app@not-a-digest"},
	}
	if err := m.Validate(); err == nil {
		t.Fatal("expected an error for a malformed image digest")
	}
}

func TestAppManifestValidateRejectsMissingPayload(t *testing.T) {
	m := &AppManifest{Key: AppKey{Name: "io.test.app", Version: "1.0.0"}, Kind: KindSingle}
	if err := m.Validate(); err == nil {
		t.Fatal("expected an error for a Single-tagged manifest with no payload")
	}
}

func TestParseAndMarshalJSONRoundTripsSingle(t *testing.T) {
	raw := []byte(`{
		"_schema": "3.0.0",
		"app": "io.test.app",
		"version": "1.0.0",
		"single": {
			"image": "registry/io.test.app:1.0.0",
			"capabilities": ["NET_ADMIN"],
			"editors": [{"name": "ui", "port": 8080, "supportsReverseProxy": true}],
			"env": [{"key": "FOO", "value": "bar"}]
		}
	}`)

	m, err := ParseJSON(raw)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if m.Kind != KindSingle {
		t.Fatalf("expected KindSingle, got %s", m.Kind)
	}
	if m.Single.Image != "registry/io.test.app:1.0.0" {
		t.Fatalf("unexpected image: %s", m.Single.Image)
	}
	if len(m.Single.Editors) != 1 || m.Single.Editors[0].Port != 8080 {
		t.Fatalf("unexpected editors: %+v", m.Single.Editors)
	}

	out, err := MarshalJSON(m)
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	reparsed, err := ParseJSON(out)
	if err != nil {
		t.Fatalf("ParseJSON(re-marshaled): %v", err)
	}
	if reparsed.Single.Image != m.Single.Image {
		t.Fatalf("round trip changed image: %s != %s", reparsed.Single.Image, m.Single.Image)
	}
}

func TestParseJSONRejectsEnvelopeWithNoPayload(t *testing.T) {
	raw := []byte(`{"_schema": "3.0.0", "app": "io.test.app", "version": "1.0.0"}`)
	if _, err := ParseJSON(raw); err == nil {
		t.Fatal("expected an error for an envelope with neither single nor compose")
	}
}

func TestParseAndMarshalJSONRoundTripsCompose(t *testing.T) {
	raw := []byte(`{
		"_schema": "3.0.0",
		"app": "io.test.compose",
		"version": "1.0.0",
		"compose": "services:\n  web:\n    image: nginx\n"
	}`)

	m, err := ParseJSON(raw)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if m.Kind != KindMulti {
		t.Fatalf("expected KindMulti, got %s", m.Kind)
	}

	out, err := MarshalJSON(m)
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	reparsed, err := ParseJSON(out)
	if err != nil {
		t.Fatalf("ParseJSON(re-marshaled): %v", err)
	}
	if reparsed.Kind != KindMulti {
		t.Fatalf("expected KindMulti after round trip, got %s", reparsed.Kind)
	}
}
