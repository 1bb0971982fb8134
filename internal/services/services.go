package services

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lllllllleong/pdfrasterflow/internal/layout"
	"github.com/Lllllllleong/pdfrasterflow/internal/ledger"
)

// Deps are the collaborators every stage gets from the runner.
type Deps struct {
	Ledger *ledger.Ledger
	Layout *layout.Layout
	Log    zerolog.Logger
	Now    func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// documentBase is the working folder name of a document: its identifier without the
// extension, whatever its case.
func documentBase(identifier string) string {
	return strings.TrimSuffix(identifier, filepath.Ext(identifier))
}
