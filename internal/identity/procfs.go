package identity

import (
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/prometheus/procfs"
)

// ProcfsLookup reads process names from /proc/<pid>/comm. The icon reference
// is the base name of the executable, which desktop renderers can map onto
// an icon theme entry.
type ProcfsLookup struct {
	fs procfs.FS
}

// NewProcfsLookup opens procfs at procRoot.
func NewProcfsLookup(procRoot string) (*ProcfsLookup, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, err
	}
	return &ProcfsLookup{fs: fs}, nil
}

// Lookup implements Lookup.
func (l *ProcfsLookup) Lookup(pid int) (string, string, bool) {
	proc, err := l.fs.Proc(pid)
	if err != nil {
		return "", "", false
	}

	name, err := proc.Comm()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", "", false
		}
		name = ""
	}

	var icon string
	if exe, err := proc.Executable(); err == nil && exe != "" {
		icon = filepath.Base(exe)
	}

	return name, icon, true
}
