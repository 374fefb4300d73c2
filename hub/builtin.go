package hub

import (
	"embed"
	"io/fs"

	"github.com/operandhq/operand/core"
)

//go:embed manifests/*.yaml
var builtinFS embed.FS

// LoadBuiltin registers the hubs shipped with the binary.
func LoadBuiltin(r *Runtime) error {
	entries, err := fs.Glob(builtinFS, "manifests/*.yaml")
	if err != nil {
		return &core.Error{Op: "hub.LoadBuiltin", Kind: core.KindInternal, Err: err}
	}
	for _, name := range entries {
		src, err := builtinFS.ReadFile(name)
		if err != nil {
			return &core.Error{Op: "hub.LoadBuiltin", Kind: core.KindInternal, ID: name, Err: err}
		}
		if err := r.RegisterManifest(src); err != nil {
			return err
		}
	}
	return nil
}
