package catalog_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/linuxdeepin/dde-application-manager/internal/catalog"
)

func setupAppDir(t *testing.T) string {
	dataHome := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataHome)
	t.Setenv("XDG_DATA_DIRS", t.TempDir())
	appDir := filepath.Join(dataHome, "applications")
	if err := os.MkdirAll(appDir, 0755); err != nil {
		t.Fatalf("failed to create applications dir: %v", err)
	}
	return appDir
}

func writeDesktopFile(t *testing.T, dir, name, contents string) string {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

const editEntry = `[Desktop Entry]
Type=Application
Name=Edit
Exec=edit %U
`

func TestAddLookupList(t *testing.T) {
	dir := setupAppDir(t)
	path := writeDesktopFile(t, dir, "org.example.Edit.desktop", editEntry)

	c := catalog.New()
	rec, err := c.Add(path)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if rec.AppID != "org.example.Edit" {
		t.Fatalf("expected app_id org.example.Edit, got %q", rec.AppID)
	}

	objID, ok := c.Lookup("org.example.Edit")
	if !ok || objID != rec.ObjectID {
		t.Fatalf("Lookup mismatch: ok=%v objID=%q", ok, objID)
	}

	list := c.List()
	if len(list) != 1 || list[0] != rec.ObjectID {
		t.Fatalf("List mismatch: %v", list)
	}
}

func TestAddDuplicateFails(t *testing.T) {
	dir := setupAppDir(t)
	path := writeDesktopFile(t, dir, "org.example.Edit.desktop", editEntry)

	c := catalog.New()
	if _, err := c.Add(path); err != nil {
		t.Fatalf("first Add failed: %v", err)
	}
	if _, err := c.Add(path); err == nil {
		t.Fatalf("expected AlreadyPresent on duplicate Add")
	}
}

func TestRemoveIdempotent(t *testing.T) {
	dir := setupAppDir(t)
	path := writeDesktopFile(t, dir, "org.example.Edit.desktop", editEntry)

	c := catalog.New()
	rec, _ := c.Add(path)

	c.Remove(rec.ObjectID)
	c.Remove(rec.ObjectID) // idempotent

	if _, ok := c.Lookup("org.example.Edit"); ok {
		t.Fatalf("expected record to be gone after Remove")
	}
}

func TestRefreshNoOpWhenUnchanged(t *testing.T) {
	dir := setupAppDir(t)
	path := writeDesktopFile(t, dir, "org.example.Edit.desktop", editEntry)

	c := catalog.New()
	rec, _ := c.Add(path)
	originalObjID := rec.ObjectID
	entryBefore := rec.Entry

	c.Refresh([]string{"org.example.Edit"})

	if rec.ObjectID != originalObjID {
		t.Fatalf("object id changed across a no-op refresh: %q vs %q", rec.ObjectID, originalObjID)
	}
	if rec.Entry != entryBefore {
		t.Fatalf("expected refresh to skip reparsing when mtime is unchanged")
	}
}

func TestRefreshReparsesOnMtimeChange(t *testing.T) {
	dir := setupAppDir(t)
	path := writeDesktopFile(t, dir, "org.example.Edit.desktop", editEntry)

	c := catalog.New()
	rec, _ := c.Add(path)
	originalObjID := rec.ObjectID
	mtimeBefore := rec.SourceMtimeNs

	// Bump mtime without changing content (S6).
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes failed: %v", err)
	}

	c.Refresh([]string{"org.example.Edit"})

	if rec.ObjectID != originalObjID {
		t.Fatalf("object id must stay stable across reparse: %q vs %q", rec.ObjectID, originalObjID)
	}
	if rec.SourceMtimeNs == mtimeBefore {
		t.Fatalf("expected SourceMtimeNs to be updated after reparse")
	}
}

func TestRefreshAddsNewlyFoundFile(t *testing.T) {
	dir := setupAppDir(t)

	c := catalog.New()
	c.Refresh([]string{"org.example.New"})
	if _, ok := c.Lookup("org.example.New"); ok {
		t.Fatalf("expected no record before the file exists")
	}

	writeDesktopFile(t, dir, "org.example.New.desktop", editEntry)
	c.Refresh([]string{"org.example.New"})
	if _, ok := c.Lookup("org.example.New"); !ok {
		t.Fatalf("expected refresh to add the app once its file appears")
	}
}

func TestRefreshRemovesDisappearedFile(t *testing.T) {
	dir := setupAppDir(t)
	path := writeDesktopFile(t, dir, "org.example.Edit.desktop", editEntry)

	c := catalog.New()
	c.Add(path)

	os.Remove(path)
	c.Refresh([]string{"org.example.Edit"})

	if _, ok := c.Lookup("org.example.Edit"); ok {
		t.Fatalf("expected record to be removed once its file disappears")
	}
}

func TestInstanceBackReferenceInvariant(t *testing.T) {
	dir := setupAppDir(t)
	path := writeDesktopFile(t, dir, "org.example.Edit.desktop", editEntry)

	c := catalog.New()
	rec, _ := c.Add(path)

	inst := &catalog.InstanceRecord{AppID: rec.AppID, InstanceID: "u1", UnitPath: "/org/.../u1"}
	if ok := c.AddInstance(rec.AppID, inst); !ok {
		t.Fatalf("AddInstance failed")
	}

	got := c.Record(rec.AppID)
	if _, ok := got.Instances["u1"]; !ok {
		t.Fatalf("expected instance back-reference to resolve")
	}
}

func TestAddInstanceDuplicateIdempotent(t *testing.T) {
	dir := setupAppDir(t)
	path := writeDesktopFile(t, dir, "org.example.Edit.desktop", editEntry)

	c := catalog.New()
	rec, _ := c.Add(path)

	inst := &catalog.InstanceRecord{AppID: rec.AppID, InstanceID: "u1", UnitPath: "/org/.../u1"}
	c.AddInstance(rec.AppID, inst)
	c.AddInstance(rec.AppID, inst) // duplicate UnitNew must be idempotent

	if len(c.Record(rec.AppID).Instances) != 1 {
		t.Fatalf("expected exactly one instance after duplicate AddInstance")
	}
}
