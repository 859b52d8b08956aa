package loaders

import (
	"encoding/base64"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/keystone/engine/math"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

var ErrInvalidScene = errors.New("invalid scene file")

type sceneFile struct {
	Name      string          `toml:"name"`
	Meshes    []sceneMesh     `toml:"meshes"`
	Materials []sceneMaterial `toml:"materials"`
	Root      sceneNode       `toml:"root"`
}

type sceneMesh struct {
	Name      string       `toml:"name"`
	Positions [][3]float32 `toml:"positions"`
	Normals   [][3]float32 `toml:"normals"`
	UVs       [][2]float32 `toml:"uvs"`
	Indices   []uint32     `toml:"indices"`
	Material  *int         `toml:"material"`
}

type sceneTexture struct {
	Kind string `toml:"kind"`
	Path string `toml:"path"`
	// Data holds a base64 encoded image embedded in the scene.
	Data string `toml:"data"`
}

type sceneMaterial struct {
	Name     string         `toml:"name"`
	Textures []sceneTexture `toml:"textures"`
}

type sceneNode struct {
	Name        string       `toml:"name"`
	Translation *[3]float32  `toml:"translation"`
	Rotation    *[4]float32  `toml:"rotation"`
	Scale       *[3]float32  `toml:"scale"`
	Matrix      *[16]float32 `toml:"matrix"`
	Meshes      []int        `toml:"meshes"`
	Children    []sceneNode  `toml:"children"`
}

// parseSceneTOML reads a ".model.toml" scene description.
func parseSceneTOML(r io.Reader, name string, images *ImageLoader) (*metadata.ImportedScene, error) {
	var file sceneFile
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&file); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decoding scene"), ErrInvalidScene)
	}
	if file.Name != "" {
		name = file.Name
	}
	scene := &metadata.ImportedScene{Name: name}

	for i, m := range file.Materials {
		mat := metadata.ImportedMaterial{Name: m.Name}
		for _, t := range m.Textures {
			tex, err := sceneTextureFrom(t, images)
			if err != nil {
				return nil, errors.Wrapf(err, "material %d", i)
			}
			mat.Textures = append(mat.Textures, tex)
		}
		scene.Materials = append(scene.Materials, mat)
	}

	for i, m := range file.Meshes {
		mesh, err := sceneMeshFrom(m, len(scene.Materials))
		if err != nil {
			return nil, errors.Wrapf(err, "mesh %d (%s)", i, m.Name)
		}
		scene.Meshes = append(scene.Meshes, mesh)
	}

	root, err := sceneNodeFrom(file.Root, len(scene.Meshes))
	if err != nil {
		return nil, err
	}
	if root.Name == "" {
		root.Name = name
	}
	scene.Root = root
	return scene, nil
}

func sceneTextureFrom(t sceneTexture, images *ImageLoader) (metadata.ImportedTexture, error) {
	kind, err := metadata.ParseTextureKind(t.Kind)
	if err != nil {
		return metadata.ImportedTexture{}, err
	}
	tex := metadata.ImportedTexture{Name: t.Path, Kind: kind}
	switch {
	case t.Data != "" && t.Path == "":
		return tex, errors.Wrap(ErrInvalidScene, "embedded texture needs a path to name it")
	case t.Data != "":
		raw, err := base64.StdEncoding.DecodeString(t.Data)
		if err != nil {
			return tex, errors.Mark(errors.Wrapf(err, "texture %s", t.Path), ErrInvalidScene)
		}
		if tex.Embedded, err = images.DecodeBytes(raw, false); err != nil {
			return tex, errors.Wrapf(err, "texture %s", t.Path)
		}
	case t.Path == "":
		return tex, errors.Wrap(ErrInvalidScene, "texture without path or data")
	}
	return tex, nil
}

func sceneMeshFrom(m sceneMesh, materials int) (metadata.ImportedMesh, error) {
	mesh := metadata.ImportedMesh{Name: m.Name, MaterialIndex: -1}
	n := len(m.Positions)
	if n == 0 || len(m.Indices) == 0 || len(m.Indices)%3 != 0 {
		return mesh, errors.Wrapf(ErrInvalidScene, "%d positions and %d indices", n, len(m.Indices))
	}
	if len(m.Normals) != 0 && len(m.Normals) != n {
		return mesh, errors.Wrapf(ErrInvalidScene, "%d normals for %d positions", len(m.Normals), n)
	}
	if len(m.UVs) != 0 && len(m.UVs) != n {
		return mesh, errors.Wrapf(ErrInvalidScene, "%d uvs for %d positions", len(m.UVs), n)
	}
	for _, idx := range m.Indices {
		if int(idx) >= n {
			return mesh, errors.Wrapf(ErrInvalidScene, "index %d out of range", idx)
		}
	}
	if m.Material != nil {
		if *m.Material < 0 || *m.Material >= materials {
			return mesh, errors.Wrapf(ErrInvalidScene, "material %d out of range", *m.Material)
		}
		mesh.MaterialIndex = *m.Material
	}

	mesh.Indices = m.Indices
	mesh.Positions = make([]mgl32.Vec3, n)
	mesh.UVs = make([]mgl32.Vec2, n)
	for i, p := range m.Positions {
		mesh.Positions[i] = mgl32.Vec3(p)
	}
	for i, uv := range m.UVs {
		mesh.UVs[i] = mgl32.Vec2(uv)
	}
	if len(m.Normals) == 0 {
		mesh.Normals = math.GenerateFaceNormals(mesh.Positions, mesh.Indices)
	} else {
		mesh.Normals = make([]mgl32.Vec3, n)
		for i, nrm := range m.Normals {
			mesh.Normals[i] = mgl32.Vec3(nrm)
		}
	}
	return mesh, nil
}

func sceneNodeFrom(n sceneNode, meshes int) (*metadata.ImportedNode, error) {
	node := &metadata.ImportedNode{Name: n.Name, Transform: math.TransformIdentity()}
	if n.Matrix != nil {
		if n.Translation != nil || n.Rotation != nil || n.Scale != nil {
			return nil, errors.Wrapf(ErrInvalidScene, "node %s mixes matrix and TRS", n.Name)
		}
		node.Transform = math.TransformFromMatrix(mgl32.Mat4(*n.Matrix))
	} else {
		if n.Translation != nil {
			node.Transform.Translation = mgl32.Vec3(*n.Translation)
		}
		if n.Rotation != nil {
			r := *n.Rotation
			node.Transform.Rotation = mgl32.Quat{W: r[3], V: mgl32.Vec3{r[0], r[1], r[2]}}.Normalize()
		}
		if n.Scale != nil {
			node.Transform.Scale = mgl32.Vec3(*n.Scale)
		}
	}
	for _, idx := range n.Meshes {
		if idx < 0 || idx >= meshes {
			return nil, errors.Wrapf(ErrInvalidScene, "node %s references mesh %d", n.Name, idx)
		}
	}
	node.MeshIndices = n.Meshes
	for _, c := range n.Children {
		child, err := sceneNodeFrom(c, meshes)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}
