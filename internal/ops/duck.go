package ops

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/creatorsuite/mediaflow/internal/media"
	"github.com/creatorsuite/mediaflow/internal/utils"
)

// The encoder leaves the top-left corner of the carrier image untouched so the
// provider watermark does not destroy payload bits. The ratios define that
// skip region relative to the image size.
const (
	watermarkSkipWRatio = 0.40
	watermarkSkipHRatio = 0.08
)

// duckBitDepths are the LSB depths the encoder may have used, tried in order
var duckBitDepths = []int{2, 6, 8}

// A password failure means a valid header was already found at that depth, so
// trying the remaining depths cannot succeed.
var (
	errPasswordRequired = errors.New("password required")
	errWrongPassword    = errors.New("wrong password")
)

// DuckConfig controls extraction of media hidden in a carrier image
type DuckConfig struct {
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	OutputDir string `json:"outputDir,omitempty" yaml:"outputDir,omitempty"` // default: alongside the carrier
}

// Validate checks the extraction parameters
func (c *DuckConfig) Validate() error {
	return nil
}

// rgbImage is a flattened row-major RGB view of a decoded image
type rgbImage struct {
	pix  []uint8
	w, h int
}

// runDuckDecode extracts a hidden file from a carrier image and writes it as a
// _recovered sibling of the carrier.
func (r *Runner) runDuckDecode(ctx context.Context, cfg *DuckConfig, inputPath string) ([]Artifact, error) {
	if err := utils.ValidateInputFile(inputPath); err != nil {
		return nil, &OperationError{Kind: ErrKindIO, Op: KindDuckDecode, Message: err.Error(), Err: err}
	}
	if err := utils.ValidateFileExtension(inputPath, []string{".png", ".jpg", ".jpeg"}); err != nil {
		return nil, &OperationError{Kind: ErrKindDecode, Op: KindDuckDecode, Message: err.Error(), Err: err}
	}

	utils.LogInfo("Extracting hidden data from %s", filepath.Base(inputPath))

	img, err := loadRGB(inputPath)
	if err != nil {
		return nil, &OperationError{Kind: ErrKindDecode, Op: KindDuckDecode, Message: "failed to decode carrier image", Err: err}
	}
	if img.w != img.h {
		utils.LogWarning("Carrier image is not square (%dx%d), extraction may fail", img.w, img.h)
	}

	data, ext, err := extractWithFallback(img, cfg.Password)
	if err != nil {
		return nil, &OperationError{Kind: ErrKindDecode, Op: KindDuckDecode, Message: err.Error(), Err: err}
	}

	utils.LogVerbose("Extracted %d bytes (type %s)", len(data), ext)

	// Video payloads are wrapped in an intermediate PNG whose pixel bytes are
	// the raw video with zero padding
	if strings.HasSuffix(ext, ".binpng") {
		data, err = binpngToRaw(data)
		if err != nil {
			return nil, &OperationError{Kind: ErrKindDecode, Op: KindDuckDecode, Message: "failed to unwrap video payload", Err: err}
		}
	}

	cleanExt := strings.TrimPrefix(strings.TrimSuffix(ext, ".binpng"), ".")

	outDir := cfg.OutputDir
	if outDir == "" {
		outDir = filepath.Dir(inputPath)
	}
	if err := utils.ValidateOutputPath(outDir); err != nil {
		return nil, &OperationError{Kind: ErrKindIO, Op: KindDuckDecode, Message: err.Error(), Err: err}
	}

	outPath := filepath.Join(outDir, fmt.Sprintf("%s_recovered.%s", utils.StripExt(inputPath), cleanExt))
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return nil, &OperationError{Kind: ErrKindIO, Op: KindDuckDecode, Message: fmt.Sprintf("failed to write %s", outPath), Err: err}
	}

	utils.LogSuccess("Recovered %s (%d bytes)", filepath.Base(outPath), len(data))

	return []Artifact{{Path: outPath, Kind: media.Detect(outPath)}}, nil
}

// extractWithFallback tries each supported LSB depth until one yields a
// payload with a parseable header
func extractWithFallback(img *rgbImage, password string) ([]byte, string, error) {
	var lastErr error
	for _, k := range duckBitDepths {
		payload, err := extractPayload(img, k)
		if err != nil {
			lastErr = err
			continue
		}
		data, ext, err := parseDuckHeader(payload, password)
		if err != nil {
			if errors.Is(err, errPasswordRequired) || errors.Is(err, errWrongPassword) {
				return nil, "", err
			}
			lastErr = err
			continue
		}
		return data, ext, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no payload found")
	}
	return nil, "", fmt.Errorf("extraction failed: %w", lastErr)
}

// extractPayload reads the k low bits of every channel outside the watermark
// skip region, row-major, and returns the length-prefixed payload
func extractPayload(img *rgbImage, k int) ([]byte, error) {
	skipW := int(float64(img.w) * watermarkSkipWRatio)
	skipH := int(float64(img.h) * watermarkSkipHRatio)
	skip := skipW > 0 && skipH > 0

	usable := img.w*img.h - skipW*skipH
	bits := make([]uint8, 0, usable*3*k)

	for y := 0; y < img.h; y++ {
		for x := 0; x < img.w; x++ {
			if skip && y < skipH && x < skipW {
				continue
			}
			off := (y*img.w + x) * 3
			for c := 0; c < 3; c++ {
				v := img.pix[off+c]
				for i := k - 1; i >= 0; i-- {
					bits = append(bits, (v>>uint(i))&1)
				}
			}
		}
	}

	if len(bits) < 32 {
		return nil, fmt.Errorf("insufficient image data")
	}

	payloadLen := binary.BigEndian.Uint32(packBits(bits[:32]))
	totalBits := 32 + int(payloadLen)*8
	if payloadLen == 0 || totalBits > len(bits) {
		return nil, fmt.Errorf("payload length out of range")
	}

	return packBits(bits[32:totalBits]), nil
}

// packBits packs a bit slice into bytes, most significant bit first
func packBits(bits []uint8) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b != 0 {
			out[i/8] |= 1 << uint(7-i%8)
		}
	}
	return out
}

// parseDuckHeader decodes the payload header and decrypts the data when a
// password was used. Layout: [hasPwd:1][pwdHash:32][salt:16][extLen:1]
// [ext:extLen][dataLen:4][data:dataLen], with hash and salt present only when
// hasPwd is 1.
func parseDuckHeader(payload []byte, password string) ([]byte, string, error) {
	if len(payload) < 1 {
		return nil, "", fmt.Errorf("payload header corrupted")
	}

	idx := 1
	hasPwd := payload[0] == 1

	var pwdHash, salt []byte
	if hasPwd {
		if len(payload) < idx+32+16 {
			return nil, "", fmt.Errorf("payload header corrupted")
		}
		pwdHash = payload[idx : idx+32]
		idx += 32
		salt = payload[idx : idx+16]
		idx += 16
	}

	if len(payload) < idx+1 {
		return nil, "", fmt.Errorf("payload header corrupted")
	}
	extLen := int(payload[idx])
	idx++

	if len(payload) < idx+extLen+4 {
		return nil, "", fmt.Errorf("payload header corrupted")
	}
	ext := string(payload[idx : idx+extLen])
	idx += extLen

	dataLen := binary.BigEndian.Uint32(payload[idx : idx+4])
	idx += 4

	data := payload[idx:]
	if len(data) != int(dataLen) {
		return nil, "", fmt.Errorf("data length mismatch")
	}

	if !hasPwd {
		return data, ext, nil
	}
	if password == "" {
		return nil, "", errPasswordRequired
	}

	check := sha256.Sum256([]byte(password + hex.EncodeToString(salt)))
	if !bytes.Equal(check[:], pwdHash) {
		return nil, "", errWrongPassword
	}

	ks := duckKeyStream(password, salt, len(data))
	plain := make([]byte, len(data))
	for i := range data {
		plain[i] = data[i] ^ ks[i]
	}
	return plain, ext, nil
}

// duckKeyStream derives an XOR keystream from the password and salt by
// chaining counter-salted sha256 blocks
func duckKeyStream(password string, salt []byte, length int) []byte {
	keyMaterial := password + hex.EncodeToString(salt)
	out := make([]byte, 0, length+sha256.Size)
	for counter := 0; len(out) < length; counter++ {
		sum := sha256.Sum256([]byte(keyMaterial + strconv.Itoa(counter)))
		out = append(out, sum[:]...)
	}
	return out[:length]
}

// binpngToRaw decodes the intermediate PNG wrapper and returns its pixel
// bytes with the zero padding stripped
func binpngToRaw(pngBytes []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode wrapper image: %w", err)
	}
	rgb := flattenRGB(img)
	return bytes.TrimRight(rgb.pix, "\x00"), nil
}

// loadRGB decodes an image file into a flattened RGB buffer
func loadRGB(path string) (*rgbImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			utils.LogWarning("Failed to close image file: %v", err)
		}
	}()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return flattenRGB(img), nil
}

func flattenRGB(img image.Image) *rgbImage {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	pix := make([]uint8, 0, w*h*3)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			pix = append(pix, c.R, c.G, c.B)
		}
	}
	return &rgbImage{pix: pix, w: w, h: h}
}
