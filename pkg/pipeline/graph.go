package pipeline

import (
	"bytes"
	"fmt"
	"os"

	"github.com/matzehuels/fuseg/pkg/cache"
	"github.com/matzehuels/fuseg/pkg/errors"
	"github.com/matzehuels/fuseg/pkg/ir"
)

// LoadGraph reads a JSON graph file.
func LoadGraph(path string) (*ir.Fusion, error) {
	if err := errors.ValidateGraphPath(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeNotFound, err, "graph %s", path)
		}
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "read %s", path)
	}
	f, err := ParseGraph(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// ParseGraph decodes a JSON graph document.
func ParseGraph(data []byte) (*ir.Fusion, error) {
	f, err := ir.ReadFusion(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidGraph, err, "decode graph")
	}
	return f, nil
}

// GraphHash returns the content hash of f, the key its segmentations are
// cached and archived under.
func GraphHash(f *ir.Fusion) (string, error) {
	data, err := ir.MarshalFusion(f)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidGraph, err, "encode graph")
	}
	return cache.Hash(data), nil
}
