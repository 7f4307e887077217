// Package catalog owns the set of ApplicationRecords discovered from
// desktop-entry files and keeps them in sync with the file system. It
// models the cyclic application/instance ownership as an arena + id
// (§9): records hold ids, not pointers, and back-references are lookups.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/linuxdeepin/dde-application-manager/internal/desktopentry"
)

// ApplicationRecord is one discovered desktop entry.
type ApplicationRecord struct {
	AppID         string
	SourcePath    string
	Entry         *desktopentry.Entry
	SourceMtimeNs int64
	ObjectID      string
	Instances     map[string]*InstanceRecord // instance_id -> record
}

// InstanceRecord is one running unit attributed to an application.
type InstanceRecord struct {
	AppID        string
	InstanceID   string
	UnitPath     string
	ObjectID     string
	LaunchTime   time.Time
	Unsupervised bool // set when the launcher fell back to direct-spawn
}

// ObjectIDForApp derives a stable object id from app_id so restarts are
// stable, per §3's requirement that object_id be deterministic.
func ObjectIDForApp(appID string) string {
	sum := sha256.Sum256([]byte("application:" + appID))
	return "/org/deepin/ApplicationManager1/" + hex.EncodeToString(sum[:])[:32]
}

// ObjectIDForInstance derives a stable object id from the owning
// application's object id and the instance id.
func ObjectIDForInstance(appObjectID, instanceID string) string {
	sum := sha256.Sum256([]byte(appObjectID + ":" + instanceID))
	return "/org/deepin/ApplicationManager1/Instances/" + hex.EncodeToString(sum[:])[:32]
}
