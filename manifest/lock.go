package manifest

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/chazu/veil/pkg/avm"
)

// LockFile records what a virtualize run produced, so a later run with the
// same seed can be checked for reproducibility.
type LockFile struct {
	Seed     int64           `toml:"seed"`
	Programs []LockedProgram `toml:"program"`
}

// LockedProgram is one installed program.
type LockedProgram struct {
	Function string `toml:"function"`
	Hash     string `toml:"hash"`
	Flags    string `toml:"flags"`
	Length   int    `toml:"length"`
}

// NewLockFile builds a lock file from installed programs. Entries are
// sorted by function name.
func NewLockFile(seed int64, programs map[string]*avm.Program, flags func(fn string) string) (*LockFile, error) {
	lf := &LockFile{Seed: seed}
	for name, p := range programs {
		h, err := p.Hash()
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", name, err)
		}
		lp := LockedProgram{Function: name, Hash: hex.EncodeToString(h[:]), Length: p.Len()}
		if flags != nil {
			lp.Flags = flags(name)
		}
		lf.Programs = append(lf.Programs, lp)
	}
	sort.Slice(lf.Programs, func(i, j int) bool {
		return lf.Programs[i].Function < lf.Programs[j].Function
	})
	return lf, nil
}

// Lookup returns the entry for fn.
func (lf *LockFile) Lookup(fn string) (LockedProgram, bool) {
	for _, p := range lf.Programs {
		if p.Function == fn {
			return p, true
		}
	}
	return LockedProgram{}, false
}

// Diff lists the functions whose hashes differ between lf and other,
// including functions present in only one of them.
func (lf *LockFile) Diff(other *LockFile) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range lf.Programs {
		seen[p.Function] = true
		q, ok := other.Lookup(p.Function)
		if !ok || q.Hash != p.Hash {
			out = append(out, p.Function)
		}
	}
	for _, q := range other.Programs {
		if !seen[q.Function] {
			out = append(out, q.Function)
		}
	}
	sort.Strings(out)
	return out
}

// ReadLock reads a lock file. Returns nil, nil if the file does not exist.
func ReadLock(file string) (*LockFile, error) {
	var lf LockFile
	if _, err := toml.DecodeFile(file, &lf); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse error in %s: %w", file, err)
	}
	return &lf, nil
}

// WriteLock writes lf to file, creating parent directories as needed.
func WriteLock(file string, lf *LockFile) error {
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(file), err)
	}
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("cannot write %s: %w", file, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(lf); err != nil {
		return fmt.Errorf("encoding %s: %w", file, err)
	}
	return f.Close()
}
