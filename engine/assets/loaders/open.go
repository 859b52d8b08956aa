package loaders

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pierrec/lz4"
)

// CompressedExt marks assets stored as lz4 frames. The extension before it
// decides how the payload is decoded.
const CompressedExt = ".lz4"

type compressedFile struct {
	io.Reader
	file *os.File
}

func (c *compressedFile) Close() error {
	return c.file.Close()
}

// OpenAsset opens path for reading, transparently decompressing lz4 assets.
func OpenAsset(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening asset %s", path)
	}
	if strings.HasSuffix(path, CompressedExt) {
		return &compressedFile{Reader: lz4.NewReader(f), file: f}, nil
	}
	return f, nil
}

// ReadAsset reads the whole (decompressed) asset.
func ReadAsset(path string) ([]byte, error) {
	r, err := OpenAsset(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "reading asset %s", path)
	}
	return data, nil
}

// AssetExt returns the lower case extension of path, ignoring a trailing
// compression extension. Two part extensions such as ".model.toml" are
// returned whole.
func AssetExt(path string) string {
	base := strings.ToLower(filepath.Base(strings.TrimSuffix(path, CompressedExt)))
	if strings.HasSuffix(base, ".model.toml") {
		return ".model.toml"
	}
	return filepath.Ext(base)
}
