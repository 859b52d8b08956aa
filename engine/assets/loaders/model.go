package loaders

import (
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

var ErrUnsupportedModel = errors.New("unsupported model format")

// ModelLoader imports a model file into an ImportedScene. Wavefront OBJ
// (with MTL libraries) and ".model.toml" scenes are understood.
type ModelLoader struct {
	images *ImageLoader
}

func NewModelLoader(images *ImageLoader) *ModelLoader {
	return &ModelLoader{images: images}
}

func (ml *ModelLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	scene, err := ml.Import(path)
	if err != nil {
		return nil, err
	}
	return &metadata.Resource{
		Type:     metadata.ResourceTypeModel,
		Name:     scene.Name,
		FullPath: path,
		DataSize: uint64(len(scene.Meshes)),
		Data:     scene,
	}, nil
}

// Import parses the model at path.
func (ml *ModelLoader) Import(path string) (*metadata.ImportedScene, error) {
	r, err := OpenAsset(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	ext := AssetExt(path)
	name := SceneName(path)
	var scene *metadata.ImportedScene
	switch ext {
	case ".obj":
		dir := filepath.Dir(path)
		scene, err = parseOBJ(r, name, func(lib string) ([]metadata.ImportedMaterial, error) {
			mr, err := OpenAsset(filepath.Join(dir, lib))
			if err != nil {
				return nil, err
			}
			defer mr.Close()
			return parseMTL(mr)
		})
	case ".model.toml":
		scene, err = parseSceneTOML(r, name, ml.images)
	default:
		return nil, errors.Wrapf(ErrUnsupportedModel, "%s", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "importing %s", path)
	}
	return scene, nil
}

func (ml *ModelLoader) Unload(*metadata.Resource) error {
	return nil
}

// SceneName strips directories and extensions from a model path.
func SceneName(path string) string {
	base := filepath.Base(strings.TrimSuffix(path, CompressedExt))
	base = strings.TrimSuffix(base, ".model.toml")
	return strings.TrimSuffix(base, filepath.Ext(base))
}
