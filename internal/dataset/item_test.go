package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestWalkOneItemPerFile(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "0", "a.png"))
	mustWrite(t, filepath.Join(root, "0", "b.png"))
	mustWrite(t, filepath.Join(root, "7", "c.png"))
	mustWrite(t, filepath.Join(root, "7", "nested", "ignored.png"))
	mustWrite(t, filepath.Join(root, "loose.png"))

	items, err := Load(root)
	require.NoError(t, err)

	sort.Slice(items, func(a, b int) bool { return items[a].Path < items[b].Path })
	require.Equal(t, []Item{
		{Label: "0", Path: filepath.Join(root, "0", "a.png")},
		{Label: "0", Path: filepath.Join(root, "0", "b.png")},
		{Label: "7", Path: filepath.Join(root, "7", "c.png")},
	}, items)

	for _, it := range items {
		require.Equal(t, filepath.Base(filepath.Dir(it.Path)), it.Label)
	}
}

func TestWalkEmptyRoot(t *testing.T) {
	items, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestWalkMissingRoot(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	require.True(t, os.IsNotExist(errors.Cause(err)))
}

func TestWalkRootIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	mustWrite(t, path)

	_, err := Load(path)
	require.ErrorIs(t, err, ErrNotDirectory)
}

func TestWalkStopsOnCallbackError(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "1", "a.png"))
	mustWrite(t, filepath.Join(root, "1", "b.png"))

	stop := errors.New("stop")
	calls := 0
	err := Walk(root, func(Item) error {
		calls++
		return stop
	})
	require.Equal(t, stop, err)
	require.Equal(t, 1, calls)
}

func TestItemClass(t *testing.T) {
	class, err := Item{Label: "9"}.Class()
	require.NoError(t, err)
	require.Equal(t, 9, class)

	_, err = Item{Label: "cat", Path: "cat/1.png"}.Class()
	require.ErrorIs(t, err, ErrInvalidLabel)
	require.Contains(t, err.Error(), `"cat"`)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate([]Item{{Label: "0"}, {Label: "9"}, {Label: "0"}}, 10))
	require.ErrorIs(t, Validate([]Item{{Label: "0"}, {Label: "cat"}}, 10), ErrInvalidLabel)
	require.ErrorIs(t, Validate([]Item{{Label: "10"}}, 10), ErrInvalidLabel)
	require.ErrorIs(t, Validate([]Item{{Label: "-1"}}, 10), ErrInvalidLabel)
	require.NoError(t, Validate(nil, 10))
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))
}
