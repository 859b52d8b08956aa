package loaders

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pierrec/lz4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

const quadOBJ = `# two triangles sharing an edge
mtllib quad.mtl
o Quad
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
usemtl checker
f 1/1 2/2 3/3 4/4
`

const quadMTL = `newmtl checker
Kd 1 1 1
map_Kd checker.png
map_Bump -bm 0.5 checker_n.png
`

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 40), G: uint8(y * 40), B: 7, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestParseOBJFanTriangulatesAndDedups(t *testing.T) {
	scene, err := parseOBJ(strings.NewReader(quadOBJ), "quad", func(string) ([]metadata.ImportedMaterial, error) {
		return parseMTL(strings.NewReader(quadMTL))
	})
	require.NoError(t, err)

	require.Len(t, scene.Meshes, 1)
	mesh := scene.Meshes[0]
	assert.Equal(t, "Quad.checker", mesh.Name)
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, mesh.Indices)
	assert.Len(t, mesh.Positions, 4)
	assert.Equal(t, mgl32.Vec2{1, 0}, mesh.UVs[2], "v is flipped")
	for _, n := range mesh.Normals {
		assert.InDelta(t, 1, n.Z(), 1e-6, "flat normals generated")
	}

	require.Len(t, scene.Materials, 1)
	assert.Equal(t, []metadata.ImportedTexture{
		{Name: "checker.png", Kind: metadata.TextureKindDiffuse},
		{Name: "checker_n.png", Kind: metadata.TextureKindNormal},
	}, scene.Materials[0].Textures)

	require.Len(t, scene.Root.Children, 1)
	assert.Equal(t, "Quad", scene.Root.Children[0].Name)
	assert.Equal(t, []int{0}, scene.Root.Children[0].MeshIndices)
}

func TestParseOBJNegativeIndices(t *testing.T) {
	src := "v 0 0 0\nv 1 0 0\nv 0 1 0\nvn 0 0 1\nf -3//-1 -2//-1 -1//-1\n"
	scene, err := parseOBJ(strings.NewReader(src), "tri", nil)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2}, scene.Meshes[0].Indices)
	assert.Equal(t, "tri", scene.Meshes[0].Name)
	assert.Equal(t, -1, scene.Meshes[0].MaterialIndex)
}

func TestParseOBJErrors(t *testing.T) {
	for name, src := range map[string]string{
		"empty":        "v 0 0 0\n",
		"out of range": "v 0 0 0\nf 1 2 3\n",
		"short face":   "v 0 0 0\nv 1 0 0\nf 1 2\n",
		"bad float":    "v 0 x 0\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseOBJ(strings.NewReader(src), "bad", nil)
			assert.True(t, errors.Is(err, ErrInvalidOBJ), "%v", err)
		})
	}
}

func TestSceneTOML(t *testing.T) {
	images := NewImageLoader(1)
	embedded := base64.StdEncoding.EncodeToString(encodePNG(t, 2, 2))
	src := `
name = "tri"

[[materials]]
name = "mat"
[[materials.textures]]
kind = "base_color"
path = "albedo"
data = "` + embedded + `"
[[materials.textures]]
kind = "lightmap"
path = "lm.png"

[[meshes]]
name = "tri"
positions = [[0, 0, 0], [1, 0, 0], [0, 1, 0]]
indices = [0, 1, 2]
material = 0

[root]
name = "root"
translation = [1, 2, 3]

[[root.children]]
name = "child"
scale = [2, 2, 2]
meshes = [0]
`
	scene, err := parseSceneTOML(strings.NewReader(src), "fallback", images)
	require.NoError(t, err)
	assert.Equal(t, "tri", scene.Name)
	assert.Equal(t, mgl32.Vec3{1, 2, 3}, scene.Root.Transform.Translation)
	require.Len(t, scene.Root.Children, 1)
	assert.Equal(t, mgl32.Vec3{2, 2, 2}, scene.Root.Children[0].Transform.Scale)

	tex := scene.Materials[0].Textures
	require.Len(t, tex, 2)
	require.NotNil(t, tex[0].Embedded)
	assert.Equal(t, uint32(2), tex[0].Embedded.Width)
	assert.Equal(t, metadata.TextureKindLightmap, tex[1].Kind)
	assert.Nil(t, tex[1].Embedded)

	assert.Len(t, scene.Meshes[0].Normals, 3)
	assert.Equal(t, 0, scene.Meshes[0].MaterialIndex)
}

func TestSceneTOMLRejectsUnknownFields(t *testing.T) {
	_, err := parseSceneTOML(strings.NewReader("colour = 1\n"), "x", NewImageLoader(1))
	assert.True(t, errors.Is(err, ErrInvalidScene))

	_, err = parseSceneTOML(strings.NewReader("[[meshes]]\npositions = [[0,0,0]]\nindices = [0, 0, 4]\n"), "x", NewImageLoader(1))
	assert.True(t, errors.Is(err, ErrInvalidScene))
}

func TestModelLoaderReadsCompressedOBJ(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, err := w.Write([]byte(quadOBJ))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	path := writeFile(t, dir, "quad.obj.lz4", buf.Bytes())
	writeFile(t, dir, "quad.mtl", []byte(quadMTL))

	res, err := NewModelLoader(NewImageLoader(1)).Load(path, metadata.ResourceTypeModel, nil)
	require.NoError(t, err)
	scene := res.Data.(*metadata.ImportedScene)
	assert.Equal(t, "quad", scene.Name)
	assert.Len(t, scene.Meshes, 1)
	assert.Len(t, scene.Materials, 1)
}

func TestImageLoader(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "img.png", encodePNG(t, 3, 2))

	res, err := NewImageLoader(2).Load(path, metadata.ResourceTypeImage, &metadata.ImageResourceParams{FlipY: true})
	require.NoError(t, err)
	img := res.Data.(*metadata.ImageData)
	assert.Equal(t, uint32(3), img.Width)
	assert.Equal(t, uint32(2), img.Height)
	require.Len(t, img.Pixels, 3*2*metadata.ImagePixelSize)
	// Row 1 (G = 40) is first after flipping.
	assert.Equal(t, uint8(40), img.Pixels[1])

	_, err = NewImageLoader(1).DecodeBytes([]byte("not an image"), false)
	assert.True(t, errors.Is(err, ErrDecodeImage))
}

func TestShaderLoader(t *testing.T) {
	dir := t.TempDir()
	words := []uint32{spirvMagic, 0x00010000, 0, 1, 0}
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, words))
	path := writeFile(t, dir, "mesh.frag.spv", buf.Bytes())

	res, err := (&ShaderLoader{}).Load(path, metadata.ResourceTypeShader, nil)
	require.NoError(t, err)
	module := res.Data.(*metadata.ShaderModule)
	assert.Equal(t, metadata.ShaderStageFragment, module.Stage)
	assert.Equal(t, words, module.Code)

	bad := writeFile(t, dir, "bad.vert.spv", []byte{1, 2, 3, 4})
	_, err = (&ShaderLoader{}).Load(bad, metadata.ResourceTypeShader, nil)
	assert.True(t, errors.Is(err, ErrInvalidShader))
}

func TestAssetExtAndSceneName(t *testing.T) {
	assert.Equal(t, ".model.toml", AssetExt("a/b/Cube.MODEL.toml.lz4"))
	assert.Equal(t, ".png", AssetExt("a/tex.png"))
	assert.Equal(t, "cube", SceneName("models/cube.model.toml"))
	assert.Equal(t, "cube", SceneName("models/cube.obj.lz4"))
}
