package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
)

// maxHashFetch bounds how much of a remote image we pull for hashing.
const maxHashFetch = 32 << 20

// HashContent computes the content digest used as the extraction cache key.
// Identical bytes always hash identically regardless of how they were
// obtained.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hasher resolves a digest for either inline bytes or a fetched URL.
type Hasher struct {
	httpClient *http.Client
}

func NewHasher(httpClient *http.Client) *Hasher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Hasher{httpClient: httpClient}
}

// Hash returns the digest for the input. Errors here must never block
// extraction; callers treat ("", err) as "skip the cache".
func (h *Hasher) Hash(ctx context.Context, in ExtractInput) (string, error) {
	if len(in.ImageBytes) > 0 {
		return HashContent(in.ImageBytes), nil
	}
	if in.ImageURL == "" {
		return "", fmt.Errorf("nothing to hash")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.ImageURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch image for hashing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch image for hashing: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHashFetch))
	if err != nil {
		return "", fmt.Errorf("read image for hashing: %w", err)
	}
	return HashContent(data), nil
}
