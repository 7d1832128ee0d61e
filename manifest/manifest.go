// Package manifest handles veil.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/virtualize"
)

// FileName is the manifest file looked up in project directories.
const FileName = "veil.toml"

// Manifest represents a veil.toml project configuration.
type Manifest struct {
	Project   Project        `toml:"project"`
	Defaults  FunctionConfig `toml:"defaults"`
	Functions []FunctionRule `toml:"function"`
	Output    Output         `toml:"output"`

	// Dir is the directory containing the veil.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name string `toml:"name"`
	Seed int64  `toml:"seed"`
}

// FunctionConfig holds per-function switches. Unset fields inherit.
type FunctionConfig struct {
	Enable         *bool `toml:"enable"`
	Polymorphism   *bool `toml:"polymorphism"`
	ClearRegisters *bool `toml:"clear_registers"`
	TypeChecks     *bool `toml:"type_checks"`
}

// FunctionRule applies a FunctionConfig to the functions whose names match
// the path.Match pattern Name.
type FunctionRule struct {
	Name string `toml:"name"`
	FunctionConfig
}

// Output configures where build artifacts go.
type Output struct {
	Programs string `toml:"programs"`
	ReportDB string `toml:"report_db"`
	Lock     string `toml:"lock"`
}

// Default returns the manifest used when no veil.toml exists.
func Default() *Manifest {
	return &Manifest{}
}

// Load parses the veil.toml file in the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses a manifest at an explicit path.
func LoadFile(file string) (*Manifest, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", file, err)
	}
	m, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	m.Dir, err = filepath.Abs(filepath.Dir(file))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", file, err)
	}
	return m, nil
}

// Parse decodes and validates manifest text.
func Parse(data string) (*Manifest, error) {
	var raw map[string]any
	if _, err := toml.Decode(data, &raw); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if err := Validate(raw); err != nil {
		return nil, err
	}

	var m Manifest
	md, err := toml.Decode(data, &m)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	for _, r := range m.Functions {
		if _, err := path.Match(r.Name, ""); err != nil {
			return nil, fmt.Errorf("function pattern %q: %w", r.Name, err)
		}
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a veil.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func apply(f virtualize.Flags, c FunctionConfig) virtualize.Flags {
	set := func(p *bool, bit virtualize.Flags) {
		switch {
		case p == nil:
		case *p:
			f |= bit
		default:
			f &^= bit
		}
	}
	set(c.Enable, virtualize.FlagEnable)
	set(c.Polymorphism, virtualize.FlagPolymorphism)
	set(c.ClearRegisters, virtualize.FlagClearRegisters)
	set(c.TypeChecks, virtualize.FlagTypeChecks)
	return f
}

// FlagsFor merges the defaults and every matching [[function]] rule, in
// file order, into the flags for fn.
func (m *Manifest) FlagsFor(fn *ir.Function) virtualize.Flags {
	f := apply(virtualize.DefaultFlags, m.Defaults)
	for _, r := range m.Functions {
		if ok, _ := path.Match(r.Name, fn.Name); ok {
			f = apply(f, r.FunctionConfig)
		}
	}
	return f
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// ProgramsPath returns the configured program bundle path, or "".
func (m *Manifest) ProgramsPath() string { return m.resolve(m.Output.Programs) }

// ReportDBPath returns the configured report database path, or "".
func (m *Manifest) ReportDBPath() string { return m.resolve(m.Output.ReportDB) }

// LockFilePath returns the path of the lock file, .veil/lock.toml unless
// configured otherwise.
func (m *Manifest) LockFilePath() string {
	if m.Output.Lock != "" {
		return m.resolve(m.Output.Lock)
	}
	return filepath.Join(m.Dir, ".veil", "lock.toml")
}
