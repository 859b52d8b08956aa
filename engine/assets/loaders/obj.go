package loaders

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/math"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

var ErrInvalidOBJ = errors.New("invalid OBJ file")

// objVertex indexes into the file wide attribute pools, -1 when absent.
type objVertex struct {
	position, uv, normal int
}

type objMesh struct {
	mesh    metadata.ImportedMesh
	lookup  map[objVertex]uint32
	missing bool // at least one vertex without a normal
}

type objParser struct {
	name      string
	positions []mgl32.Vec3
	uvs       []mgl32.Vec2
	normals   []mgl32.Vec3

	scene     *metadata.ImportedScene
	materials map[string]int
	loadMTL   func(name string) ([]metadata.ImportedMaterial, error)

	node     *metadata.ImportedNode
	current  *objMesh
	material int
	meshes   []*objMesh
	line     int
}

// parseOBJ reads a Wavefront OBJ stream. Each "o" or "g" statement opens a
// child node of the root, and each material switch inside it opens a new
// mesh. Polygons are fan triangulated.
func parseOBJ(r io.Reader, name string, loadMTL func(string) ([]metadata.ImportedMaterial, error)) (*metadata.ImportedScene, error) {
	p := &objParser{
		name:      name,
		materials: make(map[string]int),
		loadMTL:   loadMTL,
		material:  -1,
		scene: &metadata.ImportedScene{
			Name: name,
			Root: &metadata.ImportedNode{Name: name, Transform: math.TransformIdentity()},
		},
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.line++
		text := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(text, "#") || text == "" {
			continue
		}
		if err := p.statement(strings.Fields(text)); err != nil {
			return nil, errors.Wrapf(err, "line %d", p.line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return p.finish()
}

func (p *objParser) statement(fields []string) error {
	args := fields[1:]
	switch fields[0] {
	case "v":
		v, err := parseFloats(args, 3)
		if err != nil {
			return err
		}
		p.positions = append(p.positions, mgl32.Vec3{v[0], v[1], v[2]})
	case "vt":
		v, err := parseFloats(args, 2)
		if err != nil {
			return err
		}
		// Images are stored top row first.
		p.uvs = append(p.uvs, mgl32.Vec2{v[0], 1 - v[1]})
	case "vn":
		v, err := parseFloats(args, 3)
		if err != nil {
			return err
		}
		p.normals = append(p.normals, mgl32.Vec3{v[0], v[1], v[2]})
	case "o", "g":
		nodeName := p.name
		if len(args) > 0 {
			nodeName = strings.Join(args, " ")
		}
		p.node = &metadata.ImportedNode{Name: nodeName, Transform: math.TransformIdentity()}
		p.scene.Root.Children = append(p.scene.Root.Children, p.node)
		p.current = nil
	case "usemtl":
		if len(args) == 0 {
			return errors.Wrap(ErrInvalidOBJ, "usemtl without a name")
		}
		idx, ok := p.materials[args[0]]
		if !ok {
			core.LogWarn("obj %s: unknown material '%s'", p.name, args[0])
			idx = -1
		}
		if idx != p.material {
			p.material = idx
			p.current = nil
		}
	case "mtllib":
		for _, lib := range args {
			if err := p.mtllib(lib); err != nil {
				return err
			}
		}
	case "f":
		return p.face(args)
	default:
		core.LogDebug("obj %s: skipping '%s' on line %d", p.name, fields[0], p.line)
	}
	return nil
}

func (p *objParser) mtllib(lib string) error {
	if p.loadMTL == nil {
		return nil
	}
	materials, err := p.loadMTL(lib)
	if err != nil {
		return errors.Wrapf(err, "mtllib %s", lib)
	}
	for _, m := range materials {
		p.materials[m.Name] = len(p.scene.Materials)
		p.scene.Materials = append(p.scene.Materials, m)
	}
	return nil
}

func (p *objParser) face(args []string) error {
	if len(args) < 3 {
		return errors.Wrapf(ErrInvalidOBJ, "face with %d vertices", len(args))
	}
	mesh := p.mesh()
	corners := make([]uint32, len(args))
	for i, a := range args {
		v, err := p.vertex(a)
		if err != nil {
			return err
		}
		corners[i] = mesh.add(v, p)
	}
	for i := 1; i+1 < len(corners); i++ {
		mesh.mesh.Indices = append(mesh.mesh.Indices, corners[0], corners[i], corners[i+1])
	}
	return nil
}

// mesh returns the mesh faces are currently appended to, opening one
// (and the default node) on demand.
func (p *objParser) mesh() *objMesh {
	if p.current != nil {
		return p.current
	}
	if p.node == nil {
		p.node = &metadata.ImportedNode{Name: p.name, Transform: math.TransformIdentity()}
		p.scene.Root.Children = append(p.scene.Root.Children, p.node)
	}
	name := p.node.Name
	if p.material >= 0 {
		name += "." + p.scene.Materials[p.material].Name
	}
	p.current = &objMesh{
		mesh:   metadata.ImportedMesh{Name: name, MaterialIndex: p.material},
		lookup: make(map[objVertex]uint32),
	}
	p.node.MeshIndices = append(p.node.MeshIndices, len(p.meshes))
	p.meshes = append(p.meshes, p.current)
	return p.current
}

func (p *objParser) vertex(ref string) (objVertex, error) {
	parts := strings.Split(ref, "/")
	if len(parts) > 3 {
		return objVertex{}, errors.Wrapf(ErrInvalidOBJ, "vertex reference %q", ref)
	}
	v := objVertex{position: -1, uv: -1, normal: -1}
	var err error
	if v.position, err = resolveIndex(parts[0], len(p.positions)); err != nil {
		return v, err
	}
	if v.position < 0 {
		return v, errors.Wrapf(ErrInvalidOBJ, "vertex reference %q has no position", ref)
	}
	if len(parts) > 1 {
		if v.uv, err = resolveIndex(parts[1], len(p.uvs)); err != nil {
			return v, err
		}
	}
	if len(parts) > 2 {
		if v.normal, err = resolveIndex(parts[2], len(p.normals)); err != nil {
			return v, err
		}
	}
	return v, nil
}

func (m *objMesh) add(v objVertex, p *objParser) uint32 {
	if idx, ok := m.lookup[v]; ok {
		return idx
	}
	idx := uint32(len(m.mesh.Positions))
	m.lookup[v] = idx
	m.mesh.Positions = append(m.mesh.Positions, p.positions[v.position])

	uv := mgl32.Vec2{}
	if v.uv >= 0 {
		uv = p.uvs[v.uv]
	}
	m.mesh.UVs = append(m.mesh.UVs, uv)

	n := mgl32.Vec3{}
	if v.normal >= 0 {
		n = p.normals[v.normal]
	} else {
		m.missing = true
	}
	m.mesh.Normals = append(m.mesh.Normals, n)
	return idx
}

func (p *objParser) finish() (*metadata.ImportedScene, error) {
	if len(p.meshes) == 0 {
		return nil, errors.Wrapf(ErrInvalidOBJ, "%s has no faces", p.name)
	}
	for _, m := range p.meshes {
		if m.missing {
			m.mesh.Normals = math.GenerateFaceNormals(m.mesh.Positions, m.mesh.Indices)
		}
		p.scene.Meshes = append(p.scene.Meshes, m.mesh)
	}
	// Nodes opened by "o"/"g" without faces carry nothing.
	children := p.scene.Root.Children[:0]
	for _, c := range p.scene.Root.Children {
		if len(c.MeshIndices) > 0 {
			children = append(children, c)
		}
	}
	p.scene.Root.Children = children
	return p.scene, nil
}

// resolveIndex converts a 1-based (or negative, relative) OBJ index into a
// 0-based one. Empty references resolve to -1.
func resolveIndex(s string, count int) (int, error) {
	if s == "" {
		return -1, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return -1, errors.Wrapf(ErrInvalidOBJ, "index %q", s)
	}
	switch {
	case i > 0 && i <= count:
		return i - 1, nil
	case i < 0 && -i <= count:
		return count + i, nil
	}
	return -1, errors.Wrapf(ErrInvalidOBJ, "index %d out of range (%d defined)", i, count)
}

func parseFloats(args []string, n int) ([]float32, error) {
	if len(args) < n {
		return nil, errors.Wrapf(ErrInvalidOBJ, "expected %d values, got %d", n, len(args))
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		f, err := strconv.ParseFloat(args[i], 32)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidOBJ, "value %q", args[i])
		}
		out[i] = float32(f)
	}
	return out, nil
}
