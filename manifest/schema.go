package manifest

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSource string

// compileSchema builds the #Manifest definition in ctx. A cue.Context is
// not safe for concurrent use, so every validation gets its own.
func compileSchema(ctx *cue.Context) (cue.Value, error) {
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("manifest schema: %w", err)
	}
	return v.LookupPath(cue.ParsePath("#Manifest")), nil
}

// Validate checks decoded manifest data against the manifest schema.
// Unknown keys and values of the wrong type are rejected. It is safe to
// call from several goroutines.
func Validate(raw map[string]any) error {
	ctx := cuecontext.New()
	def, err := compileSchema(ctx)
	if err != nil {
		return err
	}
	v := ctx.Encode(raw)
	if err := v.Err(); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	return nil
}
