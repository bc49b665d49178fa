package session

import (
	"fmt"

	"github.com/MeKo-Tech/quadpick/internal/imageio"
	"github.com/MeKo-Tech/quadpick/internal/service"
)

// NewUpload decodes raw image bytes. A non-empty mime re-encodes the decoded
// image before it is sent to the service; otherwise the bytes go as received.
func NewUpload(data []byte, mime string) (Upload, error) {
	img, meta, err := imageio.Decode(data)
	if err != nil {
		return Upload{}, err
	}
	if mime == "" || mime == meta.MIME {
		return Upload{Image: service.Image{Data: data, MIME: meta.MIME}, Decoded: img}, nil
	}
	enc, err := imageio.Encode(img, mime)
	if err != nil {
		return Upload{}, fmt.Errorf("re-encoding upload as %s: %w", mime, err)
	}
	return Upload{Image: service.Image{Data: enc, MIME: mime}, Decoded: img}, nil
}
