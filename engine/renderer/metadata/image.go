package metadata

/** @brief Bytes per pixel of every decoded image. Images are always expanded to RGBA8. */
const ImagePixelSize = 4

/**
 * @brief A structure to hold decoded image data.
 */
type ImageData struct {
	/** @brief The width of the image. */
	Width uint32
	/** @brief The height of the image. */
	Height uint32
	/** @brief Tightly packed RGBA8 rows, top row first. */
	Pixels []uint8
}

/** @brief Parameters used when loading an image. */
type ImageResourceParams struct {
	/** @brief Indicates if the image should be flipped on the y-axis when loaded. */
	FlipY bool
}
