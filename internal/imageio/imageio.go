// Package imageio loads source images and writes rectified results.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// SupportedExtensions lists file extensions accepted as source images.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tif", ".tiff", ".webp"}

// Error wraps a failure with the operation that produced it.
type Error struct {
	Operation string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("image %s failed: %v", e.Operation, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsSupported reports whether the path has a supported image extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Metadata describes a decoded source.
type Metadata struct {
	Path      string
	Format    string
	MIME      string
	SizeBytes int64
	Width     int
	Height    int
}

var mimeTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
	"webp": "image/webp",
}

// MIMEType maps a decoder format name to its MIME type.
func MIMEType(format string) string {
	if m, ok := mimeTypes[format]; ok {
		return m
	}
	return "application/octet-stream"
}

// Decode decodes an encoded image, applying EXIF orientation the same way the
// detection backend does so both sides agree on pixel coordinates.
func Decode(data []byte) (image.Image, Metadata, error) {
	if len(data) == 0 {
		return nil, Metadata{}, &Error{Operation: "decode", Err: errors.New("empty input")}
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, Metadata{}, &Error{Operation: "decode", Err: err}
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, Metadata{}, &Error{Operation: "decode", Err: err}
	}
	b := img.Bounds()
	return img, Metadata{
		Format:    format,
		MIME:      MIMEType(format),
		SizeBytes: int64(len(data)),
		Width:     b.Dx(),
		Height:    b.Dy(),
	}, nil
}

// Load reads and decodes an image file, returning the raw bytes as well.
func Load(path string) ([]byte, image.Image, Metadata, error) {
	if path == "" {
		return nil, nil, Metadata{}, &Error{Operation: "load", Err: errors.New("empty path")}
	}
	if !IsSupported(path) {
		return nil, nil, Metadata{}, &Error{Operation: "load", Err: fmt.Errorf("unsupported format: %s", filepath.Ext(path))}
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: reading a user-provided image path is expected
	if err != nil {
		return nil, nil, Metadata{}, &Error{Operation: "load", Err: err}
	}
	img, meta, err := Decode(data)
	if err != nil {
		return nil, nil, Metadata{}, err
	}
	meta.Path = path
	return data, img, meta, nil
}

// Encode renders img in the format named by mime (JPEG or PNG).
func Encode(img image.Image, mime string) ([]byte, error) {
	var format imaging.Format
	switch mime {
	case "image/jpeg":
		format = imaging.JPEG
	case "image/png":
		format = imaging.PNG
	default:
		return nil, &Error{Operation: "encode", Err: fmt.Errorf("unsupported output type %q", mime)}
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(92)); err != nil {
		return nil, &Error{Operation: "encode", Err: err}
	}
	return buf.Bytes(), nil
}

// Save writes an encoded image to path. When the extension asks for a
// different format than the data carries, the image is re-encoded.
func Save(path string, data []byte, mime string) error {
	want, err := imaging.FormatFromFilename(path)
	if err != nil {
		return &Error{Operation: "save", Err: err}
	}
	if formatMIME(want) == mime {
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return &Error{Operation: "save", Err: err}
		}
		return nil
	}
	img, _, err := Decode(data)
	if err != nil {
		return err
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(92)); err != nil {
		return &Error{Operation: "save", Err: err}
	}
	return nil
}

func formatMIME(f imaging.Format) string {
	switch f {
	case imaging.JPEG:
		return "image/jpeg"
	case imaging.PNG:
		return "image/png"
	case imaging.GIF:
		return "image/gif"
	case imaging.BMP:
		return "image/bmp"
	case imaging.TIFF:
		return "image/tiff"
	default:
		return ""
	}
}
