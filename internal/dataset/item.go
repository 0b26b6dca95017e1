package dataset

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidLabel is returned when a label directory is not an integer class id.
	ErrInvalidLabel = errors.New("invalid label")
	// ErrNotDirectory is returned when the dataset root is not a directory.
	ErrNotDirectory = errors.New("not a directory")
)

// Item identifies one labeled example on disk.
type Item struct {
	Label string
	Path  string
}

// Class parses the label as an integer class id.
func (it Item) Class() (int, error) {
	class, err := strconv.Atoi(it.Label)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidLabel, "label %q of %s", it.Label, it.Path)
	}
	return class, nil
}

// Walk calls fn for every file found directly inside an immediate
// subdirectory of root. The subdirectory name is the label. Files at the
// root and anything nested deeper than one level are ignored.
func Walk(root string, fn func(Item) error) error {
	info, err := os.Stat(root)
	if err != nil {
		return errors.Wrap(err, "dataset root")
	}
	if !info.IsDir() {
		return errors.Wrapf(ErrNotDirectory, "dataset root %s", root)
	}

	labels, err := os.ReadDir(root)
	if err != nil {
		return errors.Wrapf(err, "list %s", root)
	}

	for _, label := range labels {
		if !label.IsDir() {
			continue
		}
		dir := filepath.Join(root, label.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return errors.Wrapf(err, "list %s", dir)
		}
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			if err := fn(Item{Label: label.Name(), Path: filepath.Join(dir, file.Name())}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load materializes Walk into a slice.
func Load(root string) ([]Item, error) {
	var items []Item
	err := Walk(root, func(it Item) error {
		items = append(items, it)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Validate fails on the first item whose label is not a class id in
// [0, numClasses).
func Validate(items []Item, numClasses int) error {
	seen := make(map[string]struct{})
	for _, it := range items {
		if _, ok := seen[it.Label]; ok {
			continue
		}
		class, err := it.Class()
		if err != nil {
			return err
		}
		if class < 0 || class >= numClasses {
			return errors.Wrapf(ErrInvalidLabel, "class %d of %s outside [0, %d)", class, it.Path, numClasses)
		}
		seen[it.Label] = struct{}{}
	}
	return nil
}
