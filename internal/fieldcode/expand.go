// Package fieldcode expands Desktop Entry field codes (%f %F %u %U %i %c
// %k) against a file list, per §4.E of the specification.
package fieldcode

import (
	"log"
	"strings"
)

// Files carries both possible representations of the file arguments: the
// caller may have supplied local paths, URIs, or both. %f/%F expand Local,
// %u/%U expand URI (falling back to Local when no URI form was given).
type Files struct {
	Local []string
	URI   []string
}

func (f Files) localOrURI() []string {
	if len(f.Local) > 0 {
		return f.Local
	}
	return f.URI
}

func (f Files) uriOrLocal() []string {
	if len(f.URI) > 0 {
		return f.URI
	}
	return f.Local
}

func (f Files) empty() bool {
	return len(f.Local) == 0 && len(f.URI) == 0
}

// Context carries the entry metadata needed by %i %c %k.
type Context struct {
	Icon       string // "" omits %i entirely
	Name       string // localized Name, for %c
	SourcePath string // for %k
}

// Expand rewrites argv, replacing each recognized field-code token and
// dropping any %f/%F/%u/%U token when files is empty, per the invariant
// "no element of the final argv is any of %f %F %u %U" when there are no
// files.
func Expand(argv []string, files Files, ctx Context) []string {
	out := make([]string, 0, len(argv))
	for _, tok := range argv {
		switch tok {
		case "%f":
			if files.empty() {
				continue
			}
			if list := files.localOrURI(); len(list) > 0 {
				out = append(out, list[0])
			}
			continue
		case "%F":
			if files.empty() {
				continue
			}
			out = append(out, files.localOrURI()...)
			continue
		case "%u":
			if files.empty() {
				continue
			}
			if list := files.uriOrLocal(); len(list) > 0 {
				out = append(out, list[0])
			}
			continue
		case "%U":
			if files.empty() {
				continue
			}
			out = append(out, strings.Join(files.uriOrLocal(), " "))
			continue
		case "%i":
			if ctx.Icon == "" {
				continue
			}
			out = append(out, "--icon", ctx.Icon)
			continue
		case "%c":
			out = append(out, ctx.Name)
			continue
		case "%k":
			out = append(out, ctx.SourcePath)
			continue
		}

		if isBareUnrecognizedCode(tok) {
			continue
		}

		out = append(out, substituteEmbedded(tok, files, ctx))
	}
	return out
}

// isBareUnrecognizedCode reports whether tok is exactly "%<letter>" for a
// letter this system does not implement (e.g. %d %D %n %N %m %v), which
// must be dropped rather than passed through literally.
func isBareUnrecognizedCode(tok string) bool {
	if len(tok) != 2 || tok[0] != '%' {
		return false
	}
	switch tok[1] {
	case 'f', 'F', 'u', 'U', 'i', 'c', 'k':
		return false // handled above
	case '%':
		return false // %% is a literal percent, handled by substituteEmbedded
	default:
		return true
	}
}

// substituteEmbedded handles %f, %u, %c, %k and %% occurring inside a
// longer token (e.g. a quoted argument like "foo %f bar"). Per §9's Open
// Question decision, this performs plain textual substitution rather than
// quote-aware parsing, and logs a warning for %f and %u so the caller can
// audit it. Other embedded codes (%F, %U, %i, ...) are left as written.
func substituteEmbedded(tok string, files Files, ctx Context) string {
	if !strings.ContainsRune(tok, '%') {
		return tok
	}
	replaced := tok
	if strings.Contains(replaced, "%f") {
		log.Printf("fieldcode: substituting %%f inside token %q textually (quote-aware substitution not implemented)", tok)
		first := ""
		if list := files.localOrURI(); len(list) > 0 {
			first = list[0]
		}
		replaced = strings.ReplaceAll(replaced, "%f", first)
	}
	if strings.Contains(replaced, "%u") {
		log.Printf("fieldcode: substituting %%u inside token %q textually", tok)
		first := ""
		if list := files.uriOrLocal(); len(list) > 0 {
			first = list[0]
		}
		replaced = strings.ReplaceAll(replaced, "%u", first)
	}
	if strings.Contains(replaced, "%c") {
		replaced = strings.ReplaceAll(replaced, "%c", ctx.Name)
	}
	if strings.Contains(replaced, "%k") {
		replaced = strings.ReplaceAll(replaced, "%k", ctx.SourcePath)
	}
	replaced = strings.ReplaceAll(replaced, "%%", "%")
	return replaced
}
