// Package artifact stores model weight snapshots by content address. A
// reference is "b3:" followed by the hex BLAKE3-256 digest of the artifact's
// canonical CBOR encoding, so equal weights always share one reference.
package artifact

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

var (
	ErrNotFound   = errors.New("artifact not found")
	ErrInvalidRef = errors.New("invalid artifact reference")
	// ErrCorrupt means the stored bytes no longer hash to their reference.
	ErrCorrupt = errors.New("artifact content does not match its reference")
)

var (
	encMode     cbor.EncMode
	decMode     cbor.DecMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("artifact: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("artifact: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("artifact: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("artifact: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode returns the reference of a and its compressed stored form.
func Encode(a *model.ModelArtifact) (string, []byte, error) {
	canonical, err := encMode.Marshal(a)
	if err != nil {
		return "", nil, fmt.Errorf("encoding artifact: %w", err)
	}

	sum := blake3.Sum256(canonical)
	ref := common.ARTIFACT_REF_PREFIX + hex.EncodeToString(sum[:])

	return ref, zstdEncoder.EncodeAll(canonical, nil), nil
}

// Reference computes the content address of a without storing it.
func Reference(a *model.ModelArtifact) (string, error) {
	ref, _, err := Encode(a)
	return ref, err
}

// Decode restores the artifact stored under ref and checks that the content
// still hashes to ref.
func Decode(ref string, blob []byte) (*model.ModelArtifact, error) {
	digest, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}

	canonical, err := zstdDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", ref, ErrCorrupt, err)
	}

	sum := blake3.Sum256(canonical)
	if hex.EncodeToString(sum[:]) != digest {
		return nil, fmt.Errorf("%s: %w", ref, ErrCorrupt)
	}

	var a model.ModelArtifact
	if err := decMode.Unmarshal(canonical, &a); err != nil {
		return nil, fmt.Errorf("%s: decoding artifact: %w", ref, err)
	}
	a.Reference = ref

	return &a, nil
}

// ParseRef validates ref and returns its hex digest.
func ParseRef(ref string) (string, error) {
	digest, found := strings.CutPrefix(ref, common.ARTIFACT_REF_PREFIX)
	if !found {
		return "", fmt.Errorf("%q: %w", ref, ErrInvalidRef)
	}
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("%q: %w", ref, ErrInvalidRef)
	}
	return digest, nil
}

func objectName(digest string) string {
	return digest + ".cbor.zst"
}
