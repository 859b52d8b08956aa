package metadata

import "fmt"

/** @brief Pipeline stage a shader module is compiled for. */
type ShaderStage int

const (
	ShaderStageVertex ShaderStage = iota
	ShaderStageFragment
	ShaderStageCompute
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vert"
	case ShaderStageFragment:
		return "frag"
	case ShaderStageCompute:
		return "comp"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

/**
 * @brief A compiled SPIR-V module as read from disk.
 */
type ShaderModule struct {
	/** @brief The shader name, the file path relative to the asset root. */
	Name  string
	Stage ShaderStage
	/** @brief SPIR-V words. */
	Code []uint32
}
