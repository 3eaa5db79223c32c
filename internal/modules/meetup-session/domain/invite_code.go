package domain

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// InviteCodeAlphabet excludes the glyphs that are easy to confuse when
	// read aloud or typed: 0/O and 1/I.
	InviteCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	InviteCodeLength   = 6

	DefaultCodeAttempts = 10
)

// NormalizeInviteCode trims and upper-cases user input and checks it against
// the invite code format.
func NormalizeInviteCode(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))

	if len(normalized) != InviteCodeLength {
		return "", fmt.Errorf("%w: invite code must be %d characters", ErrValidation, InviteCodeLength)
	}

	for _, c := range normalized {
		if !strings.ContainsRune(InviteCodeAlphabet, c) {
			return "", fmt.Errorf("%w: invite code contains invalid character '%c'", ErrValidation, c)
		}
	}

	return normalized, nil
}

// ReserveFunc attempts to claim code for an active session. It returns an
// error wrapping ErrConflict when another active session already holds it.
type ReserveFunc func(ctx context.Context, code string) error

type CodeGenerator struct {
	random      io.Reader
	maxAttempts int
}

type CodeGeneratorOption func(*CodeGenerator)

func WithRandomSource(r io.Reader) CodeGeneratorOption {
	return func(g *CodeGenerator) {
		g.random = r
	}
}

func WithMaxAttempts(attempts int) CodeGeneratorOption {
	return func(g *CodeGenerator) {
		if attempts > 0 {
			g.maxAttempts = attempts
		}
	}
}

func NewCodeGenerator(opts ...CodeGeneratorOption) *CodeGenerator {
	g := CodeGenerator{
		random:      rand.Reader,
		maxAttempts: DefaultCodeAttempts,
	}

	for _, opt := range opts {
		opt(&g)
	}

	return &g
}

// Candidate draws one random invite code. The alphabet has 32 symbols so
// masking a random byte keeps the distribution uniform.
func (g *CodeGenerator) Candidate() (string, error) {
	buf := make([]byte, InviteCodeLength)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	for i := range buf {
		buf[i] = InviteCodeAlphabet[int(buf[i])&(len(InviteCodeAlphabet)-1)]
	}

	return string(buf), nil
}

// Generate draws candidates and hands each to reserve until one is claimed.
// Conflicts are retried with a fresh draw; any other reserve error is returned
// as is. After maxAttempts conflicts it fails with ErrCodeSpaceExhausted.
func (g *CodeGenerator) Generate(ctx context.Context, reserve ReserveFunc) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		code, err := g.Candidate()
		if err != nil {
			return "", err
		}

		err = reserve(ctx, code)
		switch {
		case err == nil:
			return code, nil
		case errors.Is(err, ErrConflict):
			continue
		default:
			return "", err
		}
	}

	return "", fmt.Errorf("%w: no free code after %d attempts", ErrCodeSpaceExhausted, g.maxAttempts)
}
