package testutil

import (
	_ "embed"
	"strings"
)

//go:embed testdata/fast_lease.yaml
var fastLease string

// FastLeaseTemplate returns the reference deal workflow document.
func FastLeaseTemplate() []byte {
	return []byte(fastLease)
}

// FastLeaseTemplateWith returns the reference document with each old string
// replaced by its new counterpart, for building template revisions in tests.
func FastLeaseTemplateWith(oldNew ...string) []byte {
	return []byte(strings.NewReplacer(oldNew...).Replace(fastLease))
}
