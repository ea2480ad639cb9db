package service

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	codeSuffixLen = 6
	codeAlphabet  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	maxCodeLen    = 64
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// CodeGenerator returns a candidate code. Uniqueness is settled by the
// registry's insert-if-absent, not here.
type CodeGenerator func(prefix string, now time.Time) string

// GenerateCode builds PREFIX-<unix millis>-<6 base36 chars>. The suffix draws
// from 36^6 (about 2.2e9) values per millisecond.
func GenerateCode(prefix string, now time.Time) string {
	id := uuid.New()
	n := binary.BigEndian.Uint64(id[:8])

	suffix := make([]byte, codeSuffixLen)
	for i := range suffix {
		suffix[i] = codeAlphabet[n%uint64(len(codeAlphabet))]
		n /= uint64(len(codeAlphabet))
	}

	return fmt.Sprintf("%s-%d-%s", strings.ToUpper(prefix), now.UnixMilli(), suffix)
}

func validateProposedCode(code string) error {
	switch {
	case code == "":
		return nil
	case len(code) > maxCodeLen:
		return invalid("code", fmt.Sprintf("longer than %d characters", maxCodeLen))
	case !codePattern.MatchString(code):
		return invalid("code", "only letters, digits, '-' and '_' are allowed")
	}
	return nil
}

func validateLookupCode(code string) error {
	if code == "" {
		return invalid("code", "required")
	}
	if len(code) > maxCodeLen {
		return invalid("code", fmt.Sprintf("longer than %d characters", maxCodeLen))
	}
	return nil
}
