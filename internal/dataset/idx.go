package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

const (
	idxImagesMagic = 2051
	idxLabelsMagic = 2049

	maxIDXCount = 1 << 24
	maxIDXSide  = 1 << 12
)

// ErrIDXTooLarge is returned for IDX headers with implausible dimensions.
var ErrIDXTooLarge = errors.New("idx dimensions out of range")

// IDXImages holds a decoded IDX3 image file.
type IDXImages struct {
	Rows   int
	Cols   int
	Pixels [][]byte
}

// OpenIDX opens an IDX file, transparently decompressing gzip.
func OpenIDX(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open idx")
	}
	br := bufio.NewReader(f)
	head, err := br.Peek(2)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if head[0] != 0x1f || head[1] != 0x8b {
		return struct {
			io.Reader
			io.Closer
		}{br, f}, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "gunzip %s", path)
	}
	return struct {
		io.Reader
		io.Closer
	}{zr, closers{zr, f}}, nil
}

type closers []io.Closer

func (c closers) Close() error {
	var first error
	for _, cl := range c {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ReadIDXImages decodes an IDX3 unsigned-byte image file. Images are read
// one at a time so a header claiming more data than the stream holds fails
// on the first missing image.
func ReadIDXImages(r io.Reader) (*IDXImages, error) {
	var header [4]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "read idx header")
	}
	if header[0] != idxImagesMagic {
		return nil, errors.Errorf("bad idx image magic %d", header[0])
	}
	count, rows, cols := header[1], header[2], header[3]
	if count > maxIDXCount || rows == 0 || rows > maxIDXSide || cols == 0 || cols > maxIDXSide {
		return nil, errors.Wrapf(ErrIDXTooLarge, "%d images of %dx%d", count, rows, cols)
	}

	size := int(rows) * int(cols)
	out := &IDXImages{Rows: int(rows), Cols: int(cols)}
	for i := 0; i < int(count); i++ {
		img := make([]byte, size)
		if _, err := io.ReadFull(r, img); err != nil {
			return nil, errors.Wrapf(err, "read idx image %d of %d", i, count)
		}
		out.Pixels = append(out.Pixels, img)
	}
	return out, nil
}

// ReadIDXLabels decodes an IDX1 unsigned-byte label file.
func ReadIDXLabels(r io.Reader) ([]byte, error) {
	var header [2]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "read idx header")
	}
	if header[0] != idxLabelsMagic {
		return nil, errors.Errorf("bad idx label magic %d", header[0])
	}
	if header[1] > maxIDXCount {
		return nil, errors.Wrapf(ErrIDXTooLarge, "%d labels", header[1])
	}
	labels, err := io.ReadAll(io.LimitReader(r, int64(header[1])))
	if err != nil {
		return nil, errors.Wrap(err, "read idx labels")
	}
	if len(labels) != int(header[1]) {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "read idx labels: got %d of %d", len(labels), header[1])
	}
	return labels, nil
}

// ExportIDX writes images into root/<label>/<index>.png. A positive limit
// caps the number of written images.
func ExportIDX(root string, images *IDXImages, labels []byte, limit int) (int, error) {
	if len(images.Pixels) != len(labels) {
		return 0, errors.Errorf("%d images but %d labels", len(images.Pixels), len(labels))
	}
	n := len(labels)
	if limit > 0 {
		n = min(n, limit)
	}
	for i := 0; i < n; i++ {
		dir := filepath.Join(root, strconv.Itoa(int(labels[i])))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return i, errors.Wrap(err, "create label directory")
		}
		img := &image.Gray{
			Pix:    images.Pixels[i],
			Stride: images.Cols,
			Rect:   image.Rect(0, 0, images.Cols, images.Rows),
		}
		if err := writePNG(filepath.Join(dir, fmt.Sprintf("%05d.png", i)), img); err != nil {
			return i, err
		}
	}
	return n, nil
}
