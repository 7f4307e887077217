// Package unitname encodes and decodes systemd unit names used to track
// launched application instances, per the bit-exact rules in §6 of the
// specification: app-<launcher>-<escaped_app_id>[@<instance_id>].service
// for service-style launches, app-<escaped_app_id>-<instance_id>.scope
// for scope-style.
package unitname

import (
	"strings"

	"github.com/google/uuid"
	"github.com/linuxdeepin/dde-application-manager/internal/xdgpaths"
)

// LauncherPrefix is the fixed leading token of every unit name this
// system produces, service- and scope-style alike; in service-style names
// the launcher token follows it.
const LauncherPrefix = "app"

// Style distinguishes the two unit-name shapes this system produces.
type Style int

const (
	Service Style = iota
	Scope
)

// EncodeService renders "app-<launcher>-<escaped_app_id>[@<instance_id>].service".
func EncodeService(launcher, appID, instanceID string) string {
	escaped := xdgpaths.EscapeUnitToken(appID)
	name := LauncherPrefix + "-" + launcher + "-" + escaped
	if instanceID != "" {
		name += "@" + instanceID
	}
	return name + ".service"
}

// EncodeScope renders "app-<escaped_app_id>-<instance_id>.scope".
func EncodeScope(appID, instanceID string) string {
	escaped := xdgpaths.EscapeUnitToken(appID)
	return LauncherPrefix + "-" + escaped + "-" + instanceID + ".scope"
}

// Decode recovers (app_id, instance_id) from a unit name. Unit names with
// any other suffix return ("", "") and the caller must ignore the event.
func Decode(unitName string) (appID, instanceID string) {
	switch {
	case strings.HasSuffix(unitName, ".service"):
		return decodeService(unitName)
	case strings.HasSuffix(unitName, ".scope"):
		return decodeScope(unitName)
	default:
		return "", ""
	}
}

func decodeService(unitName string) (appID, instanceID string) {
	body := strings.TrimSuffix(unitName, ".service")
	// Split on the last '@' across the whole body first: instance_id is
	// never escaped by EncodeService and so may itself contain '-', which
	// would otherwise be misread as a structural separator. Only the
	// portion before '@' is then split on '-' to strip the launcher
	// prefix, since the escaped app_id can never contain a literal '-'.
	appPart := body
	if at := strings.LastIndexByte(body, '@'); at >= 0 {
		appPart = body[:at]
		instanceID = body[at+1:]
	}
	parts := strings.Split(appPart, "-")
	if len(parts) < 3 || parts[0] != LauncherPrefix {
		// at minimum: "app", "<launcher>", "<app_id>"
		return "", ""
	}
	appID = parts[len(parts)-1]
	return xdgpaths.UnescapeBytes(appID), instanceID
}

// NewInstanceID generates a fresh 128-bit identifier for an InstanceRecord
// created by the Launcher, rendered as 32 lowercase hex characters with no
// dashes so it never collides with the '-' unit-name structural
// separator (unlike uuid.String()'s canonical hyphenated form).
func NewInstanceID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func decodeScope(unitName string) (appID, instanceID string) {
	body := strings.TrimSuffix(unitName, ".scope")
	parts := strings.Split(body, "-")
	if len(parts) < 3 {
		// at minimum: "app", "<app_id>", "<instance_id>"
		return "", ""
	}
	instanceID = parts[len(parts)-1]
	appID = parts[len(parts)-2]
	return xdgpaths.UnescapeBytes(appID), instanceID
}
