package loaders

import (
	"bufio"
	"io"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

var ErrInvalidMaterial = errors.New("invalid material library")

// MaterialLoader reads Wavefront material libraries. Only texture maps are
// kept, every other statement is ignored.
type MaterialLoader struct{}

func (ml *MaterialLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	r, err := OpenAsset(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	materials, err := parseMTL(r)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return &metadata.Resource{
		Type:     metadata.ResourceTypeMaterial,
		Name:     path,
		FullPath: path,
		DataSize: uint64(len(materials)),
		Data:     materials,
	}, nil
}

func (ml *MaterialLoader) Unload(*metadata.Resource) error {
	return nil
}

var mtlTextureKinds = map[string]metadata.TextureKind{
	"map_kd":   metadata.TextureKindDiffuse,
	"map_ks":   metadata.TextureKindSpecular,
	"norm":     metadata.TextureKindNormal,
	"map_bump": metadata.TextureKindNormal,
	"bump":     metadata.TextureKindNormal,
	"map_pbr":  metadata.TextureKindBaseColor,
	"map_lm":   metadata.TextureKindLightmap,
}

func parseMTL(r io.Reader) ([]metadata.ImportedMaterial, error) {
	scanner := bufio.NewScanner(r)
	var materials []metadata.ImportedMaterial
	line := 0

	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())

		// Skip comments and empty lines
		if strings.HasPrefix(text, "#") || text == "" {
			continue
		}

		fields := strings.Fields(text)
		key := strings.ToLower(fields[0])
		switch {
		case key == "newmtl":
			if len(fields) < 2 {
				return nil, errors.Wrapf(ErrInvalidMaterial, "line %d: newmtl without a name", line)
			}
			materials = append(materials, metadata.ImportedMaterial{Name: fields[1]})
		case mtlTextureKinds[key] != metadata.TextureKindNone:
			if len(materials) == 0 {
				return nil, errors.Wrapf(ErrInvalidMaterial, "line %d: %s before newmtl", line, fields[0])
			}
			if len(fields) < 2 {
				return nil, errors.Wrapf(ErrInvalidMaterial, "line %d: %s without a file", line, fields[0])
			}
			// Options such as "-bm 1.0" precede the file name, which is last.
			m := &materials[len(materials)-1]
			m.Textures = append(m.Textures, metadata.ImportedTexture{
				Name: fields[len(fields)-1],
				Kind: mtlTextureKinds[key],
			})
		default:
			core.LogDebug("mtl: skipping '%s' on line %d", fields[0], line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return materials, nil
}
