package fieldcode_test

import (
	"reflect"
	"testing"

	"github.com/linuxdeepin/dde-application-manager/internal/fieldcode"
)

func TestExpandNoFilesStripsAllFileCodes(t *testing.T) {
	argv := []string{"edit", "%f", "%F", "%u", "%U", "--flag"}
	got := fieldcode.Expand(argv, fieldcode.Files{}, fieldcode.Context{})
	want := []string{"edit", "--flag"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExpandUFilesSpaceJoined(t *testing.T) {
	argv := []string{"edit", "%U"}
	files := fieldcode.Files{Local: []string{"/tmp/a.txt", "/tmp/b.txt"}}
	got := fieldcode.Expand(argv, files, fieldcode.Context{})
	want := []string{"edit", "/tmp/a.txt /tmp/b.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExpandFFilesExpandedList(t *testing.T) {
	argv := []string{"edit", "%F"}
	files := fieldcode.Files{Local: []string{"/tmp/a.txt", "/tmp/b.txt"}}
	got := fieldcode.Expand(argv, files, fieldcode.Context{})
	want := []string{"edit", "/tmp/a.txt", "/tmp/b.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExpandLowercaseFFirstOnly(t *testing.T) {
	argv := []string{"edit", "%f"}
	files := fieldcode.Files{Local: []string{"/tmp/a.txt", "/tmp/b.txt"}}
	got := fieldcode.Expand(argv, files, fieldcode.Context{})
	want := []string{"edit", "/tmp/a.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExpandIconWhenPresent(t *testing.T) {
	argv := []string{"edit", "%i"}
	got := fieldcode.Expand(argv, fieldcode.Files{}, fieldcode.Context{Icon: "edit-icon"})
	want := []string{"edit", "--icon", "edit-icon"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExpandIconOmittedWhenAbsent(t *testing.T) {
	argv := []string{"edit", "%i"}
	got := fieldcode.Expand(argv, fieldcode.Files{}, fieldcode.Context{})
	want := []string{"edit"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExpandNameAndSource(t *testing.T) {
	argv := []string{"edit", "%c", "%k"}
	got := fieldcode.Expand(argv, fieldcode.Files{}, fieldcode.Context{Name: "Edit", SourcePath: "/usr/share/applications/edit.desktop"})
	want := []string{"edit", "Edit", "/usr/share/applications/edit.desktop"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExpandDropsUnrecognizedBareCode(t *testing.T) {
	argv := []string{"edit", "%d", "%v"}
	got := fieldcode.Expand(argv, fieldcode.Files{}, fieldcode.Context{})
	want := []string{"edit"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExpandEmbeddedCodeSubstitutedTextually(t *testing.T) {
	argv := []string{"sh", "-c", "foo %f bar"}
	files := fieldcode.Files{Local: []string{"/tmp/a.txt"}}
	got := fieldcode.Expand(argv, files, fieldcode.Context{})
	want := []string{"sh", "-c", "foo /tmp/a.txt bar"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
