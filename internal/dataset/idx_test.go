package dataset

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func idxImages(t *testing.T, count, rows, cols int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []uint32{idxImagesMagic, uint32(count), uint32(rows), uint32(cols)}))
	for i := 0; i < count*rows*cols; i++ {
		buf.WriteByte(byte(i))
	}
	return buf.Bytes()
}

func idxLabels(t *testing.T, labels []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []uint32{idxLabelsMagic, uint32(len(labels))}))
	buf.Write(labels)
	return buf.Bytes()
}

func TestReadIDX(t *testing.T) {
	images, err := ReadIDXImages(bytes.NewReader(idxImages(t, 3, 2, 2)))
	require.NoError(t, err)
	require.Equal(t, 2, images.Rows)
	require.Equal(t, 2, images.Cols)
	require.Len(t, images.Pixels, 3)
	require.Equal(t, []byte{4, 5, 6, 7}, images.Pixels[1])

	labels, err := ReadIDXLabels(bytes.NewReader(idxLabels(t, []byte{3, 1, 4})))
	require.NoError(t, err)
	require.Equal(t, []byte{3, 1, 4}, labels)
}

func TestReadIDXBadMagic(t *testing.T) {
	_, err := ReadIDXImages(bytes.NewReader(idxLabels(t, []byte{1})))
	require.Error(t, err)

	_, err = ReadIDXLabels(bytes.NewReader(idxImages(t, 1, 1, 1)))
	require.Error(t, err)
}

func TestReadIDXTruncated(t *testing.T) {
	raw := idxImages(t, 2, 2, 2)
	_, err := ReadIDXImages(bytes.NewReader(raw[:len(raw)-1]))
	require.Error(t, err)
}

func TestOpenIDXGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labels.gz")

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(idxLabels(t, []byte{0, 9}))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	r, err := OpenIDX(path)
	require.NoError(t, err)
	defer r.Close()

	labels, err := ReadIDXLabels(r)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 9}, labels)
}

func TestExportIDX(t *testing.T) {
	images, err := ReadIDXImages(bytes.NewReader(idxImages(t, 4, 28, 28)))
	require.NoError(t, err)
	root := t.TempDir()

	n, err := ExportIDX(root, images, []byte{1, 2, 1, 5}, 3)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	items, err := Load(root)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.NoError(t, Validate(items, 10))

	pixels, err := DecodeImage(filepath.Join(root, "2", "00001.png"), 28, 28)
	require.NoError(t, err)
	require.Equal(t, float32(28*28%256), pixels[0])
}

func TestExportIDXCountMismatch(t *testing.T) {
	images, err := ReadIDXImages(bytes.NewReader(idxImages(t, 2, 1, 1)))
	require.NoError(t, err)

	_, err = ExportIDX(t.TempDir(), images, []byte{1}, 0)
	require.Error(t, err)
}

func TestReadIDXRejectsHugeHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header []uint32
	}{
		{"all max", []uint32{idxImagesMagic, 0xFFFFFFFF, 0xFFFFFFFF, 0xFFFFFFFF}},
		{"wide rows", []uint32{idxImagesMagic, 1, 1 << 13, 28}},
		{"zero cols", []uint32{idxImagesMagic, 1, 28, 0}},
		{"too many images", []uint32{idxImagesMagic, 1<<24 + 1, 28, 28}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, binary.Write(&buf, binary.BigEndian, test.header))
			_, err := ReadIDXImages(&buf)
			require.ErrorIs(t, err, ErrIDXTooLarge)
		})
	}

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []uint32{idxLabelsMagic, 0xFFFFFFFF}))
	_, err := ReadIDXLabels(&buf)
	require.ErrorIs(t, err, ErrIDXTooLarge)
}

func TestReadIDXHeaderLargerThanStream(t *testing.T) {
	// plausible header, but only one of a million images is present
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []uint32{idxImagesMagic, 1 << 20, 28, 28}))
	buf.Write(make([]byte, 28*28))
	_, err := ReadIDXImages(&buf)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrIDXTooLarge)

	buf.Reset()
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []uint32{idxLabelsMagic, 1 << 20}))
	buf.Write([]byte{1, 2, 3})
	_, err = ReadIDXLabels(&buf)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
