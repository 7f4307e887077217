package desktopentry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/linuxdeepin/dde-application-manager/internal/desktopentry"
)

func writeEntry(t *testing.T, contents string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.desktop")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write test entry: %v", err)
	}
	return path
}

func TestParseOk(t *testing.T) {
	path := writeEntry(t, `[Desktop Entry]
Type=Application
Name=Edit
Exec=edit %U
Icon=edit-icon
`)

	e, outcome := desktopentry.Parse(path)
	if outcome != desktopentry.Ok {
		t.Fatalf("expected Ok, got %v", outcome)
	}
	if got := e.Main().Get("Name"); got != "Edit" {
		t.Fatalf("expected Name=Edit, got %q", got)
	}
	if !e.IsDisplayable() {
		t.Fatalf("expected entry to be displayable")
	}
}

func TestParseInvalidMissingMainGroup(t *testing.T) {
	path := writeEntry(t, `[Desktop Action foo]
Exec=bar
`)

	_, outcome := desktopentry.Parse(path)
	if outcome != desktopentry.Invalid {
		t.Fatalf("expected Invalid, got %v", outcome)
	}
}

func TestParseInvalidUnrecognizedType(t *testing.T) {
	path := writeEntry(t, `[Desktop Entry]
Type=Link
Name=Somewhere
`)

	_, outcome := desktopentry.Parse(path)
	if outcome != desktopentry.Invalid {
		t.Fatalf("expected Invalid, got %v", outcome)
	}
}

func TestParseOkWithInvalidKeysOnDuplicate(t *testing.T) {
	path := writeEntry(t, `[Desktop Entry]
Type=Application
Name=Edit
Name=EditAgain
Exec=edit
`)

	e, outcome := desktopentry.Parse(path)
	if outcome != desktopentry.OkWithInvalidKeys {
		t.Fatalf("expected OkWithInvalidKeys, got %v", outcome)
	}
	if got := e.Main().Get("Name"); got != "Edit" {
		t.Fatalf("expected first occurrence to win, got %q", got)
	}
	if e.InvalidKeyCount() != 1 {
		t.Fatalf("expected 1 invalid key, got %d", e.InvalidKeyCount())
	}
}

func TestParseOkWithInvalidKeysOnMalformedLine(t *testing.T) {
	path := writeEntry(t, `[Desktop Entry]
Type=Application
Name=Edit
Exec=edit
this line has no equals sign
`)

	_, outcome := desktopentry.Parse(path)
	if outcome != desktopentry.OkWithInvalidKeys {
		t.Fatalf("expected OkWithInvalidKeys, got %v", outcome)
	}
}

func TestParseIOError(t *testing.T) {
	_, outcome := desktopentry.Parse(filepath.Join(t.TempDir(), "missing.desktop"))
	if outcome != desktopentry.IOError {
		t.Fatalf("expected IOError, got %v", outcome)
	}
}

func TestLocalizedFallbackChain(t *testing.T) {
	path := writeEntry(t, `[Desktop Entry]
Type=Application
Name=Default Name
Name[en_US]=US Name
Name[en]=En Name
Exec=edit
`)

	e, _ := desktopentry.Parse(path)
	main := e.Main()

	cases := []struct {
		locale, want string
	}{
		{"en_US@latin", "US Name"}, // falls back from en_US@latin to en_US
		{"en_US", "US Name"},
		{"en_GB", "En Name"}, // falls back to lang-only
		{"fr_FR", "Default Name"},
		{"", "Default Name"},
	}
	for _, c := range cases {
		if got := main.GetLocalized("Name", c.locale); got != c.want {
			t.Errorf("locale %q: got %q, want %q", c.locale, got, c.want)
		}
	}
}

func TestGetListEscaping(t *testing.T) {
	path := writeEntry(t, `[Desktop Entry]
Type=Application
Name=Edit
Exec=edit
OnlyShowIn=GNOME;KDE\;special;Unity;
`)

	e, _ := desktopentry.Parse(path)
	got := e.Main().GetList("OnlyShowIn")
	want := []string{"GNOME", "KDE;special", "Unity"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestGetBool(t *testing.T) {
	path := writeEntry(t, `[Desktop Entry]
Type=Application
Name=Edit
Exec=edit
Terminal=true
Hidden=false
`)

	e, _ := desktopentry.Parse(path)
	if !e.Main().GetBool("Terminal") {
		t.Fatalf("expected Terminal=true")
	}
	if e.Main().GetBool("Hidden") {
		t.Fatalf("expected Hidden=false")
	}
	if e.Main().GetBool("DBusActivatable") {
		t.Fatalf("expected missing key to default false")
	}
}

func TestActionGroup(t *testing.T) {
	path := writeEntry(t, `[Desktop Entry]
Type=Application
Name=Edit
Exec=edit

[Desktop Action new-window]
Name=New Window
Exec=edit --new
`)

	e, outcome := desktopentry.Parse(path)
	if outcome != desktopentry.Ok {
		t.Fatalf("expected Ok, got %v", outcome)
	}
	action, ok := e.Action("new-window")
	if !ok {
		t.Fatalf("expected new-window action to exist")
	}
	if got := action.Get("Exec"); got != "edit --new" {
		t.Fatalf("expected 'edit --new', got %q", got)
	}
	if len(e.ActionOrder) != 1 || e.ActionOrder[0] != "new-window" {
		t.Fatalf("expected ActionOrder to record new-window, got %v", e.ActionOrder)
	}
}
