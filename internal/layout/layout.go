// Package layout resolves the on-disk folders the stages hand documents through.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Lllllllleong/pdfrasterflow/internal/models"
)

// Folders names each root relative to Layout.Root. Absolute names are used as is.
type Folders struct {
	Incoming string `mapstructure:"incoming"`
	Working  string `mapstructure:"working"`
	Archive  string `mapstructure:"archive"`
	Failed   string `mapstructure:"failed"`
	Purge    string `mapstructure:"purge"`
	Exports  string `mapstructure:"exports"`
	Logs     string `mapstructure:"logs"`
}

// DefaultFolders returns the folder names of the drop-folder deployment.
func DefaultFolders() Folders {
	return Folders{
		Incoming: "input",
		Working:  "processing",
		Archive:  "completed",
		Failed:   "failed",
		Purge:    "deleted",
		Exports:  "reports",
		Logs:     "logs",
	}
}

// Layout holds the resolved absolute roots.
type Layout struct {
	Root     string
	Incoming string
	Working  string
	Archive  string
	Failed   string
	Purge    string
	Exports  string
	Logs     string
}

// New resolves folders against root. Empty folder names fall back to the defaults.
func New(root string, folders Folders) (*Layout, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve layout root %s: %w", root, err)
	}
	def := DefaultFolders()
	resolve := func(name, fallback string) string {
		if name == "" {
			name = fallback
		}
		if filepath.IsAbs(name) {
			return filepath.Clean(name)
		}
		return filepath.Join(abs, name)
	}
	return &Layout{
		Root:     abs,
		Incoming: resolve(folders.Incoming, def.Incoming),
		Working:  resolve(folders.Working, def.Working),
		Archive:  resolve(folders.Archive, def.Archive),
		Failed:   resolve(folders.Failed, def.Failed),
		Purge:    resolve(folders.Purge, def.Purge),
		Exports:  resolve(folders.Exports, def.Exports),
		Logs:     resolve(folders.Logs, def.Logs),
	}, nil
}

// Roots lists every root folder.
func (l *Layout) Roots() []string {
	return []string{l.Incoming, l.Working, l.Archive, l.Failed, l.Purge, l.Exports, l.Logs}
}

// Bootstrap creates every root folder that does not yet exist.
func (l *Layout) Bootstrap() error {
	for _, dir := range l.Roots() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// IncomingDay is incoming/<YYMMDD>.
func (l *Layout) IncomingDay(t time.Time) string {
	return filepath.Join(l.Incoming, models.FolderDay(t))
}

// WorkingDay is working/<YYMMDD>.
func (l *Layout) WorkingDay(t time.Time) string {
	return filepath.Join(l.Working, models.FolderDay(t))
}

// ArchiveDay is archive/<YYMMDD>.
func (l *Layout) ArchiveDay(t time.Time) string {
	return filepath.Join(l.Archive, models.FolderDay(t))
}

// FailedDay is failed/<YYMMDD>.
func (l *Layout) FailedDay(t time.Time) string {
	return filepath.Join(l.Failed, models.FolderDay(t))
}

// PurgeDay is purge/<YYMMDD>.
func (l *Layout) PurgeDay(t time.Time) string {
	return filepath.Join(l.Purge, models.FolderDay(t))
}

// DocumentDirs are the per-document folders under a working or archive day.
type DocumentDirs struct {
	Base      string
	Original  string
	Converted string
}

// Document returns the folders of base under dayDir.
func Document(dayDir, base string) DocumentDirs {
	root := filepath.Join(dayDir, base)
	return DocumentDirs{
		Base:      root,
		Original:  filepath.Join(root, "original"),
		Converted: filepath.Join(root, "converted"),
	}
}

// Exists reports whether path exists. Errors other than not-exist are returned.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
