package services

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/pdfrasterflow/internal/layout"
	"github.com/Lllllllleong/pdfrasterflow/internal/ledger"
	"github.com/Lllllllleong/pdfrasterflow/internal/notify"
)

var runDay = time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)

type testEnv struct {
	deps   Deps
	ledger *ledger.Ledger
	layout *layout.Layout
	clock  *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()

	lay, err := layout.New(root, layout.DefaultFolders())
	require.NoError(t, err)
	require.NoError(t, lay.Bootstrap())

	cfg := ledger.DefaultConfig()
	cfg.Path = filepath.Join(root, "conversion.db")
	l, err := ledger.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	clock := runDay
	env := &testEnv{ledger: l, layout: lay, clock: &clock}
	env.deps = Deps{
		Ledger: l,
		Layout: lay,
		Log:    zerolog.Nop(),
		Now:    func() time.Time { return *env.clock },
	}
	return env
}

func (e *testEnv) setClock(t time.Time) {
	*e.clock = t
}

// fakeRasterizer emits solid images. pages maps a PDF base name to its page count;
// failAt makes the given page fail for every document.
type fakeRasterizer struct {
	pages  map[string]int
	failAt int
	calls  int
}

var errRender = errors.New("render failed")

func (r *fakeRasterizer) Rasterize(ctx context.Context, pdfPath string, dpi int, emit func(int, image.Image) error) error {
	r.calls++
	n := r.pages[documentBase(filepath.Base(pdfPath))]
	for i := 1; i <= n; i++ {
		if r.failAt == i {
			return errRender
		}
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		img.Set(0, 0, color.White)
		if err := emit(i, img); err != nil {
			return err
		}
	}
	return nil
}

// fakeInspector reports page counts from the same map as fakeRasterizer.
type fakeInspector struct {
	pages map[string]int
}

func (i fakeInspector) Inspect(pdfPath string) (int, error) {
	n, ok := i.pages[documentBase(filepath.Base(pdfPath))]
	if !ok {
		return 0, errors.New("not a pdf")
	}
	return n, nil
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Send(ctx context.Context, msg notify.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	items, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, item := range items {
		names = append(names, item.Name())
	}
	sort.Strings(names)
	return names
}

func removeAll(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.RemoveAll(path))
}
