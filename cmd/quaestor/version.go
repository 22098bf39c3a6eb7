package main

import (
	"fmt"

	"github.com/ternarybob/quaestor/internal/common"
)

// printVersion handles the -version flag. A .version file next to the
// executable overrides the compiled-in value so packaged builds report
// the release they shipped with.
func printVersion() {
	common.LoadVersionFromFile()
	fmt.Printf("Quaestor version %s\n", common.GetFullVersion())
}
