package metadata

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/keystone/engine/math"
)

/**
 * @brief A texture referenced by an imported material. Embedded textures
 * carry their pixels, external ones are resolved relative to the model file.
 */
type ImportedTexture struct {
	Name     string
	Kind     TextureKind
	Embedded *ImageData
}

/** @brief An imported material, only the texture slots are kept. */
type ImportedMaterial struct {
	Name     string
	Textures []ImportedTexture
}

/**
 * @brief Raw geometry of one imported mesh. Normals and UVs are either empty
 * or have one entry per position.
 */
type ImportedMesh struct {
	Name          string
	Positions     []mgl32.Vec3
	Normals       []mgl32.Vec3
	UVs           []mgl32.Vec2
	Indices       []uint32
	MaterialIndex int
}

/** @brief A node of the imported hierarchy, referencing meshes by index. */
type ImportedNode struct {
	Name        string
	Transform   math.Transform
	MeshIndices []int
	Children    []*ImportedNode
}

/**
 * @brief The output of a model importer before anything reaches the GPU.
 */
type ImportedScene struct {
	/** @brief Scene name, used to derive mesh and embedded texture names. */
	Name      string
	Root      *ImportedNode
	Meshes    []ImportedMesh
	Materials []ImportedMaterial
}

type SceneNodeKind int

const (
	/** @brief A node that only groups its children under a transform. */
	SceneNodeKindGroup SceneNodeKind = iota
	/** @brief A node carrying mesh references. */
	SceneNodeKindMesh
)

func (k SceneNodeKind) String() string {
	if k == SceneNodeKindMesh {
		return "mesh"
	}
	return "group"
}

/** @brief Names a texture record and the slot it fills. */
type TextureReference struct {
	Name string
	Kind TextureKind
}

/** @brief Names a mesh record plus the textures bound with it. */
type MeshReference struct {
	MeshName string
	Textures []TextureReference
}

/**
 * @brief A node of a loaded model hierarchy. The payload is selected by Kind:
 * Meshes is only populated for SceneNodeKindMesh nodes. Parent is nil for the root.
 */
type SceneNode struct {
	Name      string
	Kind      SceneNodeKind
	Transform math.Transform
	Parent    *SceneNode
	Children  []*SceneNode
	Meshes    []MeshReference
}

// AddChild appends child and links it back to n.
func (n *SceneNode) AddChild(child *SceneNode) {
	child.Parent = n
	n.Children = append(n.Children, child)
}

// WorldMatrix composes the transforms from the root down to n.
func (n *SceneNode) WorldMatrix() mgl32.Mat4 {
	m := n.Transform.Matrix()
	for p := n.Parent; p != nil; p = p.Parent {
		m = p.Transform.Matrix().Mul4(m)
	}
	return m
}

// Walk visits n and its descendants depth first. Returning false from fn
// skips the children of that node.
func (n *SceneNode) Walk(fn func(*SceneNode) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// MeshReferences collects every mesh reference in the hierarchy.
func (n *SceneNode) MeshReferences() []MeshReference {
	var out []MeshReference
	n.Walk(func(node *SceneNode) bool {
		if node.Kind == SceneNodeKindMesh {
			out = append(out, node.Meshes...)
		}
		return true
	})
	return out
}
