// Package desktopentry parses and validates desktop-entry files per the
// Desktop Entry Specification, surfacing the leniency the catalog relies
// on: a file with some malformed keys still yields a usable Entry.
package desktopentry

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Outcome classifies how a parse went.
type Outcome int

const (
	Ok Outcome = iota
	OkWithInvalidKeys
	Invalid
	IOError
)

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "Ok"
	case OkWithInvalidKeys:
		return "OkWithInvalidKeys"
	case Invalid:
		return "Invalid"
	case IOError:
		return "IOError"
	default:
		return "Unknown"
	}
}

// localizedValue maps an optional locale suffix ("" for the default) to a
// value. Preserving the suffix, rather than resolving it at parse time,
// is what lets locale selection react to a locale change without a
// reparse (see DESIGN.md's Open Question decision).
type localizedValue map[string]string

// Group is one [Group Name] section: key -> localized values.
type Group map[string]localizedValue

// Entry is the parsed form of one desktop-entry file.
type Entry struct {
	Groups       map[string]Group
	ActionOrder  []string // order actions were declared in, for stable listing
	invalidKeys  []string
}

const mainGroup = "Desktop Entry"

// Parse reads and parses the desktop-entry file at path.
func Parse(path string) (*Entry, Outcome) {
	f, err := os.Open(path)
	if err != nil {
		return nil, IOError
	}
	defer f.Close()

	e := &Entry{Groups: map[string]Group{}}
	var curGroup string
	seenKeys := map[string]map[string]bool{} // group -> "key[locale]" -> seen

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			curGroup = trimmed[1 : len(trimmed)-1]
			if _, ok := e.Groups[curGroup]; !ok {
				e.Groups[curGroup] = Group{}
				if strings.HasPrefix(curGroup, "Desktop Action ") {
					e.ActionOrder = append(e.ActionOrder, strings.TrimPrefix(curGroup, "Desktop Action "))
				}
			}
			continue
		}
		if curGroup == "" {
			// Content before any [Group] header is malformed; record and skip.
			e.invalidKeys = append(e.invalidKeys, trimmed)
			continue
		}
		key, locale, value, ok := splitKeyValue(trimmed)
		if !ok {
			e.invalidKeys = append(e.invalidKeys, trimmed)
			continue
		}

		if seenKeys[curGroup] == nil {
			seenKeys[curGroup] = map[string]bool{}
		}
		dedupKey := key + "[" + locale + "]"
		if seenKeys[curGroup][dedupKey] {
			// First occurrence wins; later duplicates are invalid.
			e.invalidKeys = append(e.invalidKeys, trimmed)
			continue
		}
		seenKeys[curGroup][dedupKey] = true

		g := e.Groups[curGroup]
		if g[key] == nil {
			g[key] = localizedValue{}
		}
		g[key][locale] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, IOError
	}

	main, hasMain := e.Groups[mainGroup]
	if !hasMain {
		return e, Invalid
	}
	if main.Get("Type") != "Application" {
		return e, Invalid
	}

	if len(e.invalidKeys) > 0 {
		return e, OkWithInvalidKeys
	}
	return e, Ok
}

// splitKeyValue parses "Key[locale]=Value", trimming surrounding
// whitespace from the value while preserving interior whitespace.
func splitKeyValue(line string) (key, locale, value string, ok bool) {
	eq := strings.IndexByte(line, '=')
	if eq < 0 {
		return "", "", "", false
	}
	lhs := strings.TrimSpace(line[:eq])
	value = strings.TrimSpace(line[eq+1:])
	if lb := strings.IndexByte(lhs, '['); lb >= 0 && strings.HasSuffix(lhs, "]") {
		key = lhs[:lb]
		locale = lhs[lb+1 : len(lhs)-1]
	} else {
		key = lhs
	}
	if key == "" {
		return "", "", "", false
	}
	return key, locale, value, true
}

// Get returns the default (unlocalized) value for key in group, or "".
func (g Group) Get(key string) string {
	if g == nil {
		return ""
	}
	return g[key][""]
}

// GetLocalized resolves key in group against the fallback chain
// lang_COUNTRY@MOD -> lang_COUNTRY -> lang@MOD -> lang -> default.
func (g Group) GetLocalized(key, locale string) string {
	if g == nil {
		return ""
	}
	lv := g[key]
	if lv == nil {
		return ""
	}
	for _, candidate := range localeFallbackChain(locale) {
		if v, ok := lv[candidate]; ok {
			return v
		}
	}
	return lv[""]
}

// GetBool parses key as a desktop-entry boolean ("true"/"false").
func (g Group) GetBool(key string) bool {
	v, err := strconv.ParseBool(g.Get(key))
	return err == nil && v
}

// GetList splits key's value on ';' honoring '\;' as an escaped
// separator, dropping a single trailing empty element (desktop-entry list
// values conventionally end with a trailing semicolon).
func (g Group) GetList(key string) []string {
	raw := g.Get(key)
	if raw == "" {
		return nil
	}
	return splitList(raw)
}

func splitList(raw string) []string {
	var items []string
	var cur strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) && raw[i+1] == ';' {
			cur.WriteByte(';')
			i++
			continue
		}
		if raw[i] == ';' {
			items = append(items, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(raw[i])
	}
	if cur.Len() > 0 {
		items = append(items, cur.String())
	}
	return items
}

// Main returns the [Desktop Entry] group.
func (e *Entry) Main() Group { return e.Groups[mainGroup] }

// Action returns the [Desktop Action <name>] group for the named action.
func (e *Entry) Action(name string) (Group, bool) {
	g, ok := e.Groups["Desktop Action "+name]
	return g, ok
}

// IsDisplayable reports whether the entry has the minimum fields this
// system treats as launchable (Name and Exec in the main group).
func (e *Entry) IsDisplayable() bool {
	m := e.Main()
	return m.Get("Name") != "" && m.Get("Exec") != ""
}

// InvalidKeyCount exposes how many lines failed to parse, for diagnostics.
func (e *Entry) InvalidKeyCount() int { return len(e.invalidKeys) }

func localeFallbackChain(locale string) []string {
	if locale == "" {
		return nil
	}
	// locale forms: lang_COUNTRY@MOD, lang_COUNTRY, lang@MOD, lang
	var lang, country, mod string
	rest := locale
	if at := strings.IndexByte(rest, '@'); at >= 0 {
		mod = rest[at+1:]
		rest = rest[:at]
	}
	if us := strings.IndexByte(rest, '_'); us >= 0 {
		lang = rest[:us]
		country = rest[us+1:]
	} else {
		lang = rest
	}

	var chain []string
	if lang != "" && country != "" && mod != "" {
		chain = append(chain, fmt.Sprintf("%s_%s@%s", lang, country, mod))
	}
	if lang != "" && country != "" {
		chain = append(chain, fmt.Sprintf("%s_%s", lang, country))
	}
	if lang != "" && mod != "" {
		chain = append(chain, fmt.Sprintf("%s@%s", lang, mod))
	}
	if lang != "" {
		chain = append(chain, lang)
	}
	return chain
}
