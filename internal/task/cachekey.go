package task

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// RenderFingerprint identifies the render settings that shape a unit's clip.
// Any change to these invalidates cached clips on retry.
type RenderFingerprint struct {
	Width      int
	Height     int
	FPS        int
	VideoCodec string
	AudioCodec string
	MaxZoom    float64
}

// CacheKeyFor derives the deterministic cache key for a unit under the given
// render fingerprint. The key covers every input that affects the rendered
// clip; matching keys mean the cached clip is byte-equivalent in intent.
func CacheKeyFor(unit *Unit, fp RenderFingerprint) string {
	parts := []string{
		string(unit.Kind),
		unit.ImageKey,
		unit.AudioKey,
		unit.StartImageKey,
		unit.EndImageKey,
		unit.Prompt,
		fmt.Sprintf("%dx%d@%d", fp.Width, fp.Height, fp.FPS),
		fp.VideoCodec,
		fp.AudioCodec,
		fmt.Sprintf("zoom=%.4f", fp.MaxZoom),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:16])
}
