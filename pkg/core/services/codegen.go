package services

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"regexp"

	"github.com/wadjakorntonsri/fusly/pkg/core/domain"
	"github.com/wadjakorntonsri/fusly/pkg/metrics"
	"github.com/wadjakorntonsri/fusly/pkg/ports"
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var vanityRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

var errCodeSpaceExhausted = errors.New("no free code up to the maximum length")

// CodeGenerator allocates codes that are free among live mappings at the
// time of the check. The unique index on live codes settles races.
type CodeGenerator struct {
	prefix    string
	length    int
	maxLength int
}

func NewCodeGenerator(prefix string, length, maxLength int) *CodeGenerator {
	if length <= 0 {
		length = 5
	}
	if maxLength < length {
		maxLength = length
	}
	return &CodeGenerator{prefix: prefix, length: length, maxLength: maxLength}
}

// Allocate returns prefix+vanity when vanity is set, otherwise a random code
// whose suffix grows by one character after every collision.
func (g *CodeGenerator) Allocate(ctx context.Context, q ports.Queries, vanity string, anonymous bool) (string, error) {
	if vanity != "" {
		if anonymous {
			return "", domain.Unauthorized("Invalid credentials")
		}
		if !vanityRe.MatchString(vanity) {
			return "", domain.BadRequest("Vanity string may only contain letters, digits, '-' and '_' (max 64)")
		}
		code := g.prefix + vanity
		taken, err := q.CodeTaken(ctx, code)
		if err != nil {
			return "", err
		}
		if taken {
			return "", domain.Forbidden("Vanity string '%s' has been taken", vanity)
		}
		return code, nil
	}

	for n := g.length; n <= g.maxLength; n++ {
		suffix, err := generateShortCode(n)
		if err != nil {
			return "", err
		}
		code := g.prefix + suffix
		taken, err := q.CodeTaken(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
		metrics.RecordCollision()
	}
	return "", domain.Internal("could not allocate a short code", errCodeSpaceExhausted)
}

func generateShortCode(length int) (string, error) {
	b := make([]byte, length)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[num.Int64()]
	}
	return string(b), nil
}
