package server

// SyntheticFramebuffer is a minimal in-memory Framebuffer collaborator
// (§1, §6): the real pixel source and X-server integration are explicitly
// out of scope, so this implementation backs the engine with a flat pixel
// buffer the caller can fill directly -- sufficient to exercise encoding,
// splitting, and transport end-to-end without a real display backend.
type SyntheticFramebuffer struct {
	width, height int
	bytesPerPixel int
	pixels        []byte
}

// NewSyntheticFramebuffer allocates a zeroed framebuffer of the given
// geometry at 4 bytes per pixel (matching wire.DefaultPixelFormat's 32bpp).
func NewSyntheticFramebuffer(width, height int) *SyntheticFramebuffer {
	return &SyntheticFramebuffer{
		width:         width,
		height:        height,
		bytesPerPixel: 4,
		pixels:        make([]byte, width*height*4),
	}
}

// Width implements encode.Framebuffer.
func (f *SyntheticFramebuffer) Width() int { return f.width }

// Height implements encode.Framebuffer.
func (f *SyntheticFramebuffer) Height() int { return f.height }

// ReadRect implements encode.Framebuffer.
func (f *SyntheticFramebuffer) ReadRect(x, y, w, h int) []byte {
	var out = make([]byte, 0, w*h*f.bytesPerPixel)
	for row := y; row < y+h; row++ {
		var start = (row*f.width + x) * f.bytesPerPixel
		var end = start + w*f.bytesPerPixel
		if start < 0 || end > len(f.pixels) {
			out = append(out, make([]byte, w*f.bytesPerPixel)...)
			continue
		}
		out = append(out, f.pixels[start:end]...)
	}
	return out
}

// Fill paints rect with a constant 4-byte pixel value, for test setup and
// for a driving application to mark a region as having new content.
func (f *SyntheticFramebuffer) Fill(x, y, w, h int, pixel [4]byte) {
	for row := y; row < y+h; row++ {
		for col := x; col < x+w; col++ {
			var idx = (row*f.width + col) * f.bytesPerPixel
			if idx+4 <= len(f.pixels) {
				copy(f.pixels[idx:idx+4], pixel[:])
			}
		}
	}
}
