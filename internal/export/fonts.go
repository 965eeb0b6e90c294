package export

import (
	"fmt"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// fontSet holds the parsed typefaces shared by every export.
type fontSet struct {
	regular *opentype.Font
	bold    *opentype.Font
}

func loadFonts() (*fontSet, error) {
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("export: parse regular font: %w", err)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("export: parse bold font: %w", err)
	}
	return &fontSet{regular: regular, bold: bold}, nil
}

type faceKey struct {
	bold bool
	size float64
}

// faceCache owns the faces of a single export. Faces are not safe for
// concurrent use, so each export gets its own cache.
type faceCache struct {
	fonts *fontSet
	faces map[faceKey]font.Face
}

func (f *fontSet) newFaceCache() *faceCache {
	return &faceCache{fonts: f, faces: make(map[faceKey]font.Face)}
}

// face returns a face whose em size is size pixels.
func (c *faceCache) face(bold bool, size float64) (font.Face, error) {
	key := faceKey{bold: bold, size: size}
	if cached, ok := c.faces[key]; ok {
		return cached, nil
	}
	source := c.fonts.regular
	if bold {
		source = c.fonts.bold
	}
	face, err := opentype.NewFace(source, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("export: font face: %w", err)
	}
	c.faces[key] = face
	return face, nil
}

func (c *faceCache) close() {
	for key, face := range c.faces {
		_ = face.Close()
		delete(c.faces, key)
	}
}
