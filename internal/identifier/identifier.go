// Package identifier answers "which running application instance owns
// this process?" from a pidfd, the race-free alternative to trusting a
// bare pid that may have already been recycled by the kernel. Reading a
// pidfd's target pid has no ecosystem library (it is a single line of one
// specific /proc file), so that step is the one part of this package that
// stays on the standard library; everything above it — walking the
// process tree when the direct cgroup lookup misses — goes through
// gopsutil, the same library the teacher already reaches for whenever it
// needs process/host information (internal/metrics).
package identifier

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/linuxdeepin/dde-application-manager/internal/apperr"
	"github.com/linuxdeepin/dde-application-manager/internal/unitname"
)

// maxAncestorDepth bounds the parent-process walk used as a fallback when
// a pid's own cgroup does not resolve to one of our unit names, e.g.
// because it was reparented after its immediate parent exited.
const maxAncestorDepth = 8

// procRoot is overridden by tests to point at a synthetic /proc tree.
var procRoot = "/proc"

// Identifier resolves pidfds to (app_id, instance_id) pairs.
type Identifier struct{}

// New returns an Identifier. It carries no state; every lookup reads live
// process/cgroup information.
func New() *Identifier { return &Identifier{} }

// Identify resolves the process referenced by pidfd (a file descriptor,
// in the caller's own process, obtained via pidfd_getfd or SCM_RIGHTS) to
// the application and instance that own it.
func (id *Identifier) Identify(pidfd int) (appID, instanceID string, err error) {
	pid, err := pidFromFd(pidfd)
	if err != nil {
		return "", "", apperr.New("identifier.Identify", apperr.NotFound, err)
	}

	if unitName, ok := cgroupUnitName(pid); ok {
		if appID, instanceID = unitname.Decode(unitName); appID != "" {
			return appID, instanceID, nil
		}
	}

	if unitName, ok := ancestorUnitName(pid); ok {
		if appID, instanceID = unitname.Decode(unitName); appID != "" {
			return appID, instanceID, nil
		}
	}

	return "", "", apperr.New("identifier.Identify", apperr.NotFound, fmt.Errorf("pid %d is not attributable to a tracked application", pid))
}

// pidFromFd reads the "Pid:" field out of /proc/self/fdinfo/<fd>, the
// kernel's race-free way of dereferencing a pidfd back to the pid it
// currently names.
func pidFromFd(fd int) (int, error) {
	path := fmt.Sprintf("%s/self/fdinfo/%d", procRoot, fd)
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if rest, ok := strings.CutPrefix(line, "Pid:"); ok {
			pid, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				return 0, err
			}
			return pid, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("no Pid: field in %s (fd %d is not a pidfd)", path, fd)
}

// cgroupUnitName reads /proc/<pid>/cgroup and extracts the trailing
// systemd unit name from the cgroup path, if any.
func cgroupUnitName(pid int) (string, bool) {
	path := fmt.Sprintf("%s/%d/cgroup", procRoot, pid)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.SplitN(line, ":", 3)
		if len(fields) != 3 {
			continue
		}
		cgroupPath := fields[2]
		segments := strings.Split(strings.TrimRight(cgroupPath, "/"), "/")
		last := segments[len(segments)-1]
		if strings.HasSuffix(last, ".service") || strings.HasSuffix(last, ".scope") {
			return last, true
		}
	}
	return "", false
}

// ancestorUnitName walks pid's parent chain and returns the unit name of
// the first ancestor whose cgroup ends in a .service or .scope unit,
// covering processes that were reparented out of the launching unit's
// cgroup. Whether that unit is one of ours is left to the caller's Decode.
func ancestorUnitName(pid int) (string, bool) {
	cur := int32(pid)
	for i := 0; i < maxAncestorDepth; i++ {
		proc, err := process.NewProcess(cur)
		if err != nil {
			return "", false
		}
		ppid, err := proc.Ppid()
		if err != nil || ppid <= 1 {
			return "", false
		}
		if unitName, ok := cgroupUnitName(int(ppid)); ok {
			return unitName, true
		}
		cur = ppid
	}
	return "", false
}
