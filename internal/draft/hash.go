package draft

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DomainPayload separates payload fingerprints from any other hash use.
const DomainPayload = "fieldsave/payload/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns a stable hash of the (formData, images) payload.
// Map key order and Unicode normalization do not affect the result.
func Fingerprint(formData json.RawMessage, images []CapturedImage) (string, error) {
	if len(formData) == 0 {
		formData = json.RawMessage("null")
	}
	fd, err := decodeWithNumbers(formData)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}

	imgJSON, err := json.Marshal(CloneImages(images))
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	imgs, err := decodeWithNumbers(imgJSON)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}

	canonical, err := MarshalCanonical(map[string]any{
		"formData": fd,
		"images":   imgs,
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}

// HasContent reports whether a payload carries anything worth saving: at
// least one image, or a form field that is not null, "" or an empty container.
func HasContent(formData json.RawMessage, images []CapturedImage) bool {
	if len(images) > 0 {
		return true
	}
	if len(formData) == 0 {
		return false
	}
	v, err := decodeWithNumbers(formData)
	if err != nil {
		return false
	}
	switch val := v.(type) {
	case map[string]any:
		for _, field := range val {
			if nonEmpty(field) {
				return true
			}
		}
		return false
	default:
		return nonEmpty(val)
	}
}

func nonEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
