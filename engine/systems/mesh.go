package systems

import (
	"encoding/binary"
	"fmt"
	stdmath "math"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/math"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
	"github.com/spaghettifunk/keystone/engine/resources"
)

const (
	indexStride    = 4
	positionStride = 12
	normalUVStride = 8

	indexAlignment    = 4
	positionAlignment = 4
	normalUVAlignment = 8

	emptyMeshName = "empty_name"
)

var ErrEmptyMesh = errors.New("mesh has no geometry")

// Mesh is one uploaded mesh. Its geometry lives in three ranges of the
// global buffers: indices, positions and packed normal+UV pairs.
type Mesh struct {
	resources.RefCount
	upload

	Name         string
	IndexSlot    resources.Slot
	PositionSlot resources.Slot
	NormalUVSlot resources.Slot
	IndexCount   uint32
	VertexCount  uint32
	// Bounds is a bounding sphere, xyz center and w radius.
	Bounds mgl32.Vec4
}

func newMesh(ctx *resources.Context, name string) *Mesh {
	return &Mesh{Name: name, upload: newUpload(ctx)}
}

// IsLoaded reports whether the geometry is resident on the device.
func (m *Mesh) IsLoaded() bool {
	return m.IsFinished()
}

// frees returns everything the mesh owns on the device.
func (m *Mesh) frees() []resources.PendingFree {
	return append(m.releaseFrees(),
		resources.PendingFree{Kind: resources.FreeIndexSlot, Slot: m.IndexSlot},
		resources.PendingFree{Kind: resources.FreeVertexSlot, Slot: m.PositionSlot},
		resources.PendingFree{Kind: resources.FreeVertexSlot, Slot: m.NormalUVSlot},
	)
}

// meshName derives the record name of the index-th mesh of a scene.
func meshName(scene string, mesh string, index int) string {
	if mesh == "" {
		mesh = emptyMeshName
	}
	return fmt.Sprintf("%s.%s.[%d]", scene, mesh, index)
}

// packMeshStaging lays the mesh out as [indices|positions|normalUV] in dst.
func packMeshStaging(dst []byte, data *metadata.ImportedMesh) {
	le := binary.LittleEndian
	off := 0
	for _, idx := range data.Indices {
		le.PutUint32(dst[off:], idx)
		off += indexStride
	}
	for _, p := range data.Positions {
		le.PutUint32(dst[off:], stdmath.Float32bits(p[0]))
		le.PutUint32(dst[off+4:], stdmath.Float32bits(p[1]))
		le.PutUint32(dst[off+8:], stdmath.Float32bits(p[2]))
		off += positionStride
	}
	for i := range data.Positions {
		var normal, uv uint32
		if i < len(data.Normals) {
			normal = math.PackSnorm2x16(math.OctEncode(data.Normals[i]))
		}
		if i < len(data.UVs) {
			uv = math.PackUnorm2x16(data.UVs[i])
		}
		le.PutUint32(dst[off:], normal)
		le.PutUint32(dst[off+4:], uv)
		off += normalUVStride
	}
}

// loadMesh stages the geometry of data, carves its ranges out of the global
// buffers and submits the copies.
func (ms *ModelSystem) loadMesh(mesh *Mesh, data *metadata.ImportedMesh) error {
	core.LogInfo("loading mesh - %s", mesh.Name)
	if len(data.Indices) == 0 || len(data.Positions) == 0 {
		return errors.Wrapf(ErrEmptyMesh, "%s", mesh.Name)
	}

	indexSize := uint64(len(data.Indices)) * indexStride
	positionSize := uint64(len(data.Positions)) * positionStride
	normalUVSize := uint64(len(data.Positions)) * normalUVStride

	staging, err := ms.ctx.CreateStagingBuffer(mesh.Name+" staging", indexSize+positionSize+normalUVSize)
	if err != nil {
		return errors.Wrapf(err, "staging %s", mesh.Name)
	}
	packMeshStaging(staging.Mapped, data)

	mesh.IndexCount = uint32(len(data.Indices))
	mesh.VertexCount = uint32(len(data.Positions))
	mesh.IndexSlot = ms.ctx.GrabIndexMemory(indexSize, indexAlignment)
	mesh.PositionSlot = ms.ctx.GrabVertexMemory(positionSize, positionAlignment)
	mesh.NormalUVSlot = ms.ctx.GrabVertexMemory(normalUVSize, normalUVAlignment)

	lo, hi := math.Bounds(data.Positions)
	mesh.Bounds = math.SphereBounds(lo, hi)

	backend := ms.ctx.Backend()
	cmd, err := ms.ctx.SubmitTransfer(mesh.Name, mesh.completion, func(cmd *metadata.CommandBuffer) error {
		backend.CmdCopyBuffer(cmd, staging, ms.ctx.IndexBuffer(), metadata.BufferCopy{
			SrcOffset: 0,
			DstOffset: mesh.IndexSlot.Offset,
			Size:      indexSize,
		})
		backend.CmdCopyBuffer(cmd, staging, ms.ctx.VertexBuffer(),
			metadata.BufferCopy{
				SrcOffset: indexSize,
				DstOffset: mesh.PositionSlot.Offset,
				Size:      positionSize,
			},
			metadata.BufferCopy{
				SrcOffset: indexSize + positionSize,
				DstOffset: mesh.NormalUVSlot.Offset,
				Size:      normalUVSize,
			})
		return nil
	})
	if err != nil {
		ms.ctx.Release(true, resources.PendingFree{Kind: resources.FreeBuffer, Buffer: staging})
		return err
	}
	mesh.markSubmitted(&resources.Staging{Buffer: staging, Command: cmd})

	core.LogInfo("finished loading mesh - %s", mesh.Name)
	return nil
}
