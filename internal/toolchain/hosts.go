package toolchain

import (
	"runtime"
	"strings"
)

// Maps host label prefixes (as used by hosted CI runners) to OS families.
var hostFamilies = map[string]string{
	"ubuntu":  "linux",
	"debian":  "linux",
	"linux":   "linux",
	"macos":   "darwin",
	"darwin":  "darwin",
	"windows": "windows",
}

// OS names that can appear as a component of a target triple, mapped to Go
// OS names.
var tripleOSNames = map[string]string{
	"linux":   "linux",
	"darwin":  "darwin",
	"windows": "windows",
	"freebsd": "freebsd",
	"netbsd":  "netbsd",
	"illumos": "illumos",
}

// Triple architecture components mapped to Go architecture names.
var tripleArches = map[string]string{
	"x86_64":      "amd64",
	"i686":        "386",
	"aarch64":     "arm64",
	"arm":         "arm",
	"armv7":       "arm",
	"riscv64gc":   "riscv64",
	"powerpc64le": "ppc64le",
	"s390x":       "s390x",
}

// Resolves a host label to its OS family.
//
// Labels follow the hosted-runner convention of "<os>-<version>" (e.g.,
// "ubuntu-latest", "macos-14"). Returns false for unrecognized labels.
func hostFamily(label string) (string, bool) {
	prefix, _, _ := strings.Cut(strings.ToLower(label), "-")
	family, ok := hostFamilies[prefix]
	return family, ok
}

// Returns the OS component of a target triple as a Go OS name.
//
// Triples have the form "<arch>-<vendor>-<os>-<abi>" with the vendor and ABI
// segments optional, so the OS is located by name rather than by position.
// Returns "" when no known OS component is present.
func TripleOS(triple string) string {
	for _, part := range strings.Split(triple, "-") {
		if os, ok := tripleOSNames[part]; ok {
			return os
		}
	}
	return ""
}

// Returns the architecture component of a target triple as a Go
// architecture name, or "" if unrecognized.
func TripleArch(triple string) string {
	arch, _, _ := strings.Cut(triple, "-")
	return tripleArches[arch]
}

// Reports whether the triple can be built by the host toolchain without the
// cross helper.
//
// A triple is native when both its OS and architecture components match the
// executing host. Everything else goes through a cross toolchain container.
func Native(triple string) bool {
	return nativeFor(triple, runtime.GOOS, runtime.GOARCH)
}

// Reports whether the triple is native for the given host OS and
// architecture.
func nativeFor(triple, hostOS, hostArch string) bool {
	return TripleOS(triple) == hostOS && TripleArch(triple) == hostArch
}
