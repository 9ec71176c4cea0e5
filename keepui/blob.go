package keepui

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"regexp"
	"strings"
)

// BlobRef is a content-addressed identifier, `<algo>-<lower hex digest>`.
// It is a value type and supports equality with ==.
// Unknown algorithms that still match the syntax are accepted and treated
// opaquely, since the server may describe blobs hashed by newer functions.
type BlobRef struct {
	Algo string
	Hex  string
}

// current default and accepted legacy hash names
const AlgoSha224 = "sha224"
const AlgoSha1 = "sha1"

var blobRefPattern = regexp.MustCompile(`^[a-z][a-z0-9]{2,5}-[a-f0-9]{30,}$`)

// feed both hashers in lock-step so the legacy and current digests
// cover identical byte ranges
const hashChunkSize = 1024 * 1024

func ParseBlobRef(s string) (BlobRef, error) {
	if !blobRefPattern.MatchString(s) {
		return BlobRef{}, fmt.Errorf("%w: %q", ErrInvalidBlobRef, s)
	}
	i := strings.IndexByte(s, '-')
	return BlobRef{
		Algo: s[:i],
		Hex:  s[i+1:],
	}, nil
}

func IsPlausibleBlobRef(s string) bool {
	return blobRefPattern.MatchString(s)
}

func BlobRefFromHash(algo string, digest []byte) BlobRef {
	return BlobRef{
		Algo: algo,
		Hex:  hex.EncodeToString(digest),
	}
}

func (self BlobRef) IsZero() bool {
	return self.Algo == "" && self.Hex == ""
}

func (self BlobRef) String() string {
	return self.Algo + "-" + self.Hex
}

// DigestPrefix returns the first n hex digits, for short display forms.
func (self BlobRef) DigestPrefix(n int) string {
	if len(self.Hex) < n {
		return self.Hex
	}
	return self.Hex[:n]
}

func (self BlobRef) Less(other BlobRef) bool {
	if self.Algo != other.Algo {
		return self.Algo < other.Algo
	}
	return self.Hex < other.Hex
}

func (self BlobRef) MarshalJSON() ([]byte, error) {
	var buff bytes.Buffer
	buff.WriteByte('"')
	buff.WriteString(self.String())
	buff.WriteByte('"')
	return buff.Bytes(), nil
}

func (self *BlobRef) UnmarshalJSON(src []byte) error {
	if len(src) < 2 || src[0] != '"' || src[len(src)-1] != '"' {
		return fmt.Errorf("%w: %s", ErrInvalidBlobRef, src)
	}
	ref, err := ParseBlobRef(string(src[1 : len(src)-1]))
	if err != nil {
		return err
	}
	*self = ref
	return nil
}

// SizedBlobRef is a BlobRef plus the byte size the server reported for it.
type SizedBlobRef struct {
	BlobRef BlobRef `json:"blobRef"`
	Size    int64   `json:"size"`
}

func newHasher(algo string) (hash.Hash, error) {
	switch algo {
	case AlgoSha224:
		return sha256.New224(), nil
	case AlgoSha1:
		return sha1.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgo, algo)
	}
}

// HashString hashes the utf-8 bytes of s with the current default algorithm.
func HashString(s string) BlobRef {
	h := sha256.New224()
	io.WriteString(h, s)
	return BlobRefFromHash(AlgoSha224, h.Sum(nil))
}

type HashBytesOptions struct {
	// hash with this algorithm instead of the current default
	Algo string
	// also produce the legacy sha1 ref over the identical byte ranges
	AlsoLegacySha1 bool
}

type HashBytesResult struct {
	Ref BlobRef
	// zero unless AlsoLegacySha1 was set
	LegacySha1Ref BlobRef
}

// HashBytes hashes r in 1 MiB chunks, optionally feeding a legacy sha1
// hasher in lock-step. The default algorithm can be overridden through the
// options; an unknown algorithm returns ErrUnsupportedAlgo.
func HashBytes(r io.Reader, options HashBytesOptions) (*HashBytesResult, error) {
	algo := options.Algo
	if algo == "" {
		algo = AlgoSha224
	}
	current, err := newHasher(algo)
	if err != nil {
		return nil, err
	}
	var legacy hash.Hash
	if options.AlsoLegacySha1 {
		legacy, err = newHasher(AlgoSha1)
		if err != nil {
			return nil, err
		}
	}

	chunk := make([]byte, hashChunkSize)
	for {
		n, err := r.Read(chunk)
		if 0 < n {
			current.Write(chunk[:n])
			if legacy != nil {
				legacy.Write(chunk[:n])
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	result := &HashBytesResult{
		Ref: BlobRefFromHash(algo, current.Sum(nil)),
	}
	if legacy != nil {
		result.LegacySha1Ref = BlobRefFromHash(AlgoSha1, legacy.Sum(nil))
	}
	return result, nil
}
