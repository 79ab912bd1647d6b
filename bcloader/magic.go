package bcloader

import "github.com/joelreymont/pez/bcopcode"

// magicToVersion maps the 16-bit magic number embedded in a .pyc header to
// the CPython (major, minor) pair that produced it. The table only needs
// to resolve the *last* magic number ever assigned to a minor version:
// within a minor version the magic number occasionally bumps across point
// releases, but this verifier only ever needs to pick the right opcode
// generation, which is stable across those bumps.
var magicToVersion = map[uint16]bcopcode.Version{
	3413: {Major: 3, Minor: 8},
	3425: {Major: 3, Minor: 9},
	3439: {Major: 3, Minor: 10},
	3495: {Major: 3, Minor: 11},
	3531: {Major: 3, Minor: 12},
	3571: {Major: 3, Minor: 13},
}

var versionToMagic = func() map[bcopcode.Version]uint16 {
	m := make(map[bcopcode.Version]uint16, len(magicToVersion))
	for magic, v := range magicToVersion {
		m[v] = magic
	}
	return m
}()

// MagicForVersion returns the magic number pez writes when asked to
// fabricate a header for a given version (used by bcloader's own test
// fixtures).
func MagicForVersion(v bcopcode.Version) (uint16, bool) {
	m, ok := versionToMagic[v]
	return m, ok
}
