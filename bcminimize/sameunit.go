package bcminimize

import (
	"os"
	"regexp"
	"time"

	"github.com/joelreymont/pez/bcdisasm"
	"github.com/joelreymont/pez/bclocate"
	"github.com/joelreymont/pez/bcloader"
	"github.com/joelreymont/pez/bcopcode"
	"github.com/joelreymont/pez/bctoolchain"
)

var (
	addrLiteralRe = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	codeLineRe    = regexp.MustCompile(`, line \d+`)
)

// normalizedArgRepr matches same_unit's normalized_argrepr (spec.md §4.8):
// an embedded code-object repr like "<code object f at 0x7f0012, line 3>"
// carries an address and a source line, neither of which same_unit should
// be sensitive to. constRepr (bcdisasm/decode.go) currently renders
// ArgCode operands as the empty string, so this never fires today, but
// the contract holds even if constRepr starts carrying a code repr.
func normalizedArgRepr(s string) string {
	s = addrLiteralRe.ReplaceAllString(s, "0x...")
	s = codeLineRe.ReplaceAllString(s, ", line ...")
	return s
}

// NewSameUnit builds a SameUnitFunc that recompiles a candidate source
// with py and reports whether the target path's raw (opname, argrepr)
// instruction stream still matches the original, argrepr compared after
// normalizedArgRepr masking — the same
// equivalence check emit_min.py's same_unit makes before ddmin accepts a
// reduction.
func NewSameUnit(origRoot *bcloader.CodeObject, origVersion bcopcode.Version, path string, index int, py, origFilename string, timeout time.Duration) SameUnitFunc {
	origTable, origTableErr := bcopcode.ForVersion(origVersion, bcopcode.CPython)

	return func(source string) (bool, error) {
		if origTableErr != nil {
			return false, origTableErr
		}
		tmpSrc, err := os.CreateTemp("", "pez-min-*.py")
		if err != nil {
			return false, err
		}
		srcPath := tmpSrc.Name()
		defer os.Remove(srcPath)
		if _, err := tmpSrc.WriteString(source); err != nil {
			tmpSrc.Close()
			return false, err
		}
		tmpSrc.Close()

		pycPath := srcPath + ".pyc"
		defer os.Remove(pycPath)

		if err := bctoolchain.CompileSource(py, srcPath, pycPath, origFilename, timeout); err != nil {
			// A candidate reduction that no longer parses or compiles is
			// simply not an equivalent unit, not a tool failure.
			return false, nil
		}

		art, err := bcloader.Load(pycPath)
		if err != nil {
			return false, nil
		}
		if art.Version != origVersion {
			return false, nil
		}
		compTable, err := bcopcode.ForVersion(art.Version, art.Impl)
		if err != nil {
			return false, err
		}

		_, origCode, err := bclocate.FindByPath(origRoot, path, index)
		if err != nil {
			return false, err
		}
		_, compCode, err := bclocate.FindByPath(art.Root, path, index)
		if err != nil {
			return false, nil
		}

		origRaw, err := bcdisasm.Decode(origCode, origTable)
		if err != nil {
			return false, err
		}
		compRaw, err := bcdisasm.Decode(compCode, compTable)
		if err != nil {
			return false, err
		}
		if len(origRaw) != len(compRaw) {
			return false, nil
		}
		for i := range origRaw {
			if origRaw[i].OpName != compRaw[i].OpName {
				return false, nil
			}
			if normalizedArgRepr(origRaw[i].ArgRepr) != normalizedArgRepr(compRaw[i].ArgRepr) {
				return false, nil
			}
		}
		return true, nil
	}
}
