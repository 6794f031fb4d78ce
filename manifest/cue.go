package manifest

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// schema constrains yarnvm.cue manifests. It is unified with the file
// before decoding, so type and enum errors carry CUE positions.
const schema = `
story?: {
	name?:      string
	program?:   string
	strings?:   string
	metadata?:  string
	start?:     string
	autostart?: bool
}
runtime?: {
	"max-call-depth"?: int & >=0
	"line-mode"?:      "buffered" | "step"
	seed?:             int & >=0
}
variables?: {
	database?: string
	session?:  string
	initial?: {[=~"^\\$"]: string | number | bool}
}
commands?: [string]: {
	mode?:   "blocking" | "fire-and-forget"
	params?: [...("string" | "number" | "bool" | "any")]
}
`

func decodeCUE(path string, data []byte, m *Manifest) error {
	ctx := cuecontext.New()
	s := ctx.CompileString("close({" + schema + "})")
	if err := s.Err(); err != nil {
		return err
	}

	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return err
	}
	value = s.Unify(value)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return value.Decode(m)
}
