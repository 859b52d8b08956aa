package loaders

import (
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

// SPIR-V magic number, first word of every module.
const spirvMagic uint32 = 0x07230203

var ErrInvalidShader = errors.New("invalid SPIR-V module")

type ShaderLoader struct{}

// Load reads a compiled module named like "name.vert.spv".
func (sl *ShaderLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	data, err := ReadAsset(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 || len(data)%4 != 0 {
		return nil, errors.Wrapf(ErrInvalidShader, "%s: size %d", path, len(data))
	}
	code := bytesToBytecode(data)
	if code[0] != spirvMagic {
		return nil, errors.Wrapf(ErrInvalidShader, "%s: magic %#08x", path, code[0])
	}
	stage, err := shaderStage(path)
	if err != nil {
		return nil, err
	}
	return &metadata.Resource{
		Type:     metadata.ResourceTypeShader,
		Name:     path,
		FullPath: path,
		DataSize: uint64(len(data)),
		Data: &metadata.ShaderModule{
			Name:  path,
			Stage: stage,
			Code:  code,
		},
	}, nil
}

func (sl *ShaderLoader) Unload(*metadata.Resource) error {
	return nil
}

func shaderStage(path string) (metadata.ShaderStage, error) {
	base := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), CompressedExt), ".spv")
	switch filepath.Ext(base) {
	case ".vert":
		return metadata.ShaderStageVertex, nil
	case ".frag":
		return metadata.ShaderStageFragment, nil
	case ".comp":
		return metadata.ShaderStageCompute, nil
	}
	return 0, errors.Wrapf(ErrInvalidShader, "%s: unknown stage", path)
}
