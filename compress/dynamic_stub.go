//go:build !cgo

package compress

import "github.com/arloliu/h4mk/errs"

// dynamicCore is unused in a cgo-disabled build; it exists only so
// seal.go's type and field references resolve identically in both build
// configurations, mirroring the teacher's zstd_pure.go / zstd_cgo.go split.
type dynamicCore struct {
	engineID    string
	fingerprint []byte
}

var _ Engine = (*dynamicCore)(nil)

func (c *dynamicCore) Compress(data []byte) ([]byte, error)   { return nil, errs.ErrCoreUnavailable }
func (c *dynamicCore) Decompress(data []byte) ([]byte, error) { return nil, errs.ErrCoreUnavailable }
func (c *dynamicCore) Info() Info                             { return Info{Engine: "core"} }

func loadDynamicCore(path string) (*dynamicCore, error) {
	return nil, errs.ErrCoreUnavailable
}

const dynamicCoreSupported = false
