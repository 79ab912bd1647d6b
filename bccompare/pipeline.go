package bccompare

import (
	"time"

	"github.com/joelreymont/pez/bcanalysis"
	"github.com/joelreymont/pez/bcloader"
	"github.com/joelreymont/pez/bcopcode"
	"github.com/joelreymont/pez/bctoolchain"
)

// CompareFiles runs the full single-pair pipeline: load the original
// artifact, locate an interpreter matching its version (or the caller's
// override), recompile the decompiled source with it, load the result,
// and compare both units trees. python may be empty to let bctoolchain
// pick an interpreter itself.
func CompareFiles(origPath, srcPath, python string, timeout time.Duration, keepTemp bool, th Thresholds) (Report, error) {
	origArt, err := bcloader.Load(origPath)
	if err != nil {
		return Report{}, err
	}
	origTable, err := bcopcode.ForVersion(origArt.Version, origArt.Impl)
	if err != nil {
		return Report{}, err
	}

	interp, err := bctoolchain.Locate(python, origArt.Version, timeout)
	if err != nil {
		return Report{}, err
	}

	scratch, err := bctoolchain.NewScratch("pez-compare-", keepTemp)
	if err != nil {
		return Report{}, err
	}
	defer scratch.Close()

	pycPath := scratch.Path("compiled.pyc")
	if err := bctoolchain.CompileSource(interp.Path, srcPath, pycPath, origArt.Root.Filename, timeout); err != nil {
		return Report{}, err
	}

	compArt, err := bcloader.Load(pycPath)
	if err != nil {
		return Report{}, err
	}

	if compArt.Version != origArt.Version {
		return Compare(nil, nil, origArt.Version, compArt.Version, th), nil
	}

	origUnits, err := bcanalysis.Walk(origArt.Root, origTable, origArt.Root.Name)
	if err != nil {
		return Report{}, err
	}
	compUnits, err := bcanalysis.Walk(compArt.Root, origTable, compArt.Root.Name)
	if err != nil {
		return Report{}, err
	}

	return Compare(origUnits, compUnits, origArt.Version, compArt.Version, th), nil
}
