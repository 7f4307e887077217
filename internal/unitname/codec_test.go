package unitname_test

import (
	"testing"

	"github.com/linuxdeepin/dde-application-manager/internal/unitname"
)

func TestServiceRoundTrip(t *testing.T) {
	cases := []struct {
		appID, instanceID string
	}{
		{"org.example.Edit", "u1"},
		{"org.example.Edit", unitname.NewInstanceID()},
		{"vendor-kde4-app", "abc123"},
		{"a", "abc-def"},
		{"org.example.Edit", "550e8400-e29b-41d4-a716-446655440000"},
	}

	for _, c := range cases {
		name := unitname.EncodeService("foo", c.appID, c.instanceID)
		gotApp, gotInstance := unitname.Decode(name)
		if gotApp != c.appID || gotInstance != c.instanceID {
			t.Errorf("round trip of (%q,%q) via %q: got (%q,%q)", c.appID, c.instanceID, name, gotApp, gotInstance)
		}
	}
}

func TestScopeRoundTrip(t *testing.T) {
	cases := []struct {
		appID, instanceID string
	}{
		{"org.example.Edit", "u1"},
		{"org.example.Edit", unitname.NewInstanceID()},
	}

	for _, c := range cases {
		name := unitname.EncodeScope(c.appID, c.instanceID)
		gotApp, gotInstance := unitname.Decode(name)
		if gotApp != c.appID || gotInstance != c.instanceID {
			t.Errorf("round trip of (%q,%q) via %q: got (%q,%q)", c.appID, c.instanceID, name, gotApp, gotInstance)
		}
	}
}

func TestDecodeServiceNoInstance(t *testing.T) {
	appID, instanceID := unitname.Decode("app-foo-org.example.Edit.service")
	if appID != "org.example.Edit" || instanceID != "" {
		t.Errorf("got (%q,%q)", appID, instanceID)
	}
}

func TestDecodeUnknownSuffix(t *testing.T) {
	appID, instanceID := unitname.Decode("some-random.timer")
	if appID != "" || instanceID != "" {
		t.Errorf("expected empty decode for unrecognized suffix, got (%q,%q)", appID, instanceID)
	}
}

func TestEncodeEscapesSpecialBytes(t *testing.T) {
	name := unitname.EncodeService("foo", "org-example", "u1")
	want := "app-foo-org\\x2dexample@u1.service"
	if name != want {
		t.Errorf("got %q, want %q", name, want)
	}
}
