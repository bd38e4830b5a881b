package biometric

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
)

var (
	ErrEmptySample   = errors.New("biometric sample is empty")
	ErrEmptyTemplate = errors.New("biometric template is empty")
)

const saltSize = 16

// Template is the stored representation of an enrolled biometric.
// It holds a salted SHA-256 digest of the enrollment sample; the raw
// sample is never persisted or transmitted.
type Template struct {
	Salt   []byte `json:"salt"`
	Digest []byte `json:"digest"`
}

func (t Template) IsZero() bool {
	return len(t.Salt) == 0 && len(t.Digest) == 0
}

// NewTemplate derives a template from an enrollment sample.
func NewTemplate(sample []byte) (Template, error) {
	if len(sample) == 0 {
		return Template{}, ErrEmptySample
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return Template{}, fmt.Errorf("generate salt: %w", err)
	}
	return Template{Salt: salt, Digest: digest(sample, salt)}, nil
}

// Matcher performs 1:1 verification of a presented sample against a
// stored template. Implementations wrap whatever the sensor hardware
// produces; the state machine only sees match / no-match / error.
type Matcher interface {
	Verify(sample []byte, tpl Template) (bool, error)
}

// HashMatcher verifies samples against salted-hash templates. It is the
// default matcher for sensors that emit a stable per-finger identifier.
type HashMatcher struct{}

func (HashMatcher) Verify(sample []byte, tpl Template) (bool, error) {
	if len(sample) == 0 {
		return false, ErrEmptySample
	}
	if tpl.IsZero() {
		return false, ErrEmptyTemplate
	}
	return subtle.ConstantTimeCompare(digest(sample, tpl.Salt), tpl.Digest) == 1, nil
}

func digest(sample, salt []byte) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write(sample)
	return h.Sum(nil)
}
