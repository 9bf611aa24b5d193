// Package version reports the chronodiff tool version and checks the
// on-disk layout version written by older or newer releases.
package version

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the tool version stamped into records and lock files.
// Overridden at build time with -ldflags "-X .../version.Version=...".
var Version = "0.3.0"

// Layout is the storage layout version written to meta/version.
const Layout = "1"

// Canonical returns v in the "vMAJOR.MINOR.PATCH" form semver expects.
func Canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

// CheckLayout reports an error when a layout written on disk cannot be read
// by this build. Layouts are compatible when their major versions match.
func CheckLayout(onDisk string) error {
	have := Canonical(onDisk)
	if have == "" {
		return fmt.Errorf("invalid layout version %q", onDisk)
	}
	want := Canonical(Layout)
	if semver.Major(have) != semver.Major(want) {
		return fmt.Errorf("layout version %s is not supported (this build reads %s)", semver.Major(have), semver.Major(want))
	}
	return nil
}

// Newer reports whether version a is strictly newer than b. Invalid versions
// sort before valid ones.
func Newer(a, b string) bool {
	return semver.Compare(Canonical(a), Canonical(b)) > 0
}
