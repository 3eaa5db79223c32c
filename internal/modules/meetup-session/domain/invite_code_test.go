package domain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Candidate_Uses_Alphabet_And_Length(t *testing.T) {
	// Arrange
	g := NewCodeGenerator()

	for i := 0; i < 500; i++ {
		// Act
		code, err := g.Candidate()

		// Assert
		require.NoError(t, err)
		require.Len(t, code, InviteCodeLength)

		for _, c := range code {
			require.True(t, strings.ContainsRune(InviteCodeAlphabet, c), "unexpected character %c", c)
		}
	}
}

func Test_Candidate_Excludes_Ambiguous_Characters(t *testing.T) {
	for _, c := range "01OI" {
		require.False(t, strings.ContainsRune(InviteCodeAlphabet, c))
	}
	require.Len(t, InviteCodeAlphabet, 32)
}

func Test_NormalizeInviteCode_Upper_Cases_And_Trims_Input(t *testing.T) {
	// Act
	code, err := NormalizeInviteCode("  abc234 ")

	// Assert
	require.NoError(t, err)
	require.Equal(t, "ABC234", code)
}

func Test_NormalizeInviteCode_Rejects_Malformed_Codes(t *testing.T) {
	for _, input := range []string{"", "ABC", "ABC2345", "ABC10O", "AB-234", "ÄBC234"} {
		_, err := NormalizeInviteCode(input)
		require.ErrorIs(t, err, ErrValidation, "input %q", input)
	}
}

func Test_Generate_Returns_First_Reserved_Code(t *testing.T) {
	// Arrange
	g := NewCodeGenerator()

	var reserved []string
	reserve := func(_ context.Context, code string) error {
		reserved = append(reserved, code)
		return nil
	}

	// Act
	code, err := g.Generate(context.Background(), reserve)

	// Assert
	require.NoError(t, err)
	require.Equal(t, []string{code}, reserved)
}

func Test_Generate_Retries_With_New_Draw_On_Conflict(t *testing.T) {
	// Arrange
	random := bytes.NewReader(append(bytes.Repeat([]byte{0}, InviteCodeLength), bytes.Repeat([]byte{1}, InviteCodeLength)...))
	g := NewCodeGenerator(WithRandomSource(random))

	attempts := 0
	reserve := func(_ context.Context, code string) error {
		attempts++
		if code == "AAAAAA" {
			return fmt.Errorf("insert session: %w", ErrConflict)
		}
		return nil
	}

	// Act
	code, err := g.Generate(context.Background(), reserve)

	// Assert
	require.NoError(t, err)
	require.Equal(t, "BBBBBB", code)
	require.Equal(t, 2, attempts)
}

func Test_Generate_Fails_With_CodeSpaceExhausted_After_Bounded_Attempts(t *testing.T) {
	// Arrange
	g := NewCodeGenerator(WithMaxAttempts(3))

	attempts := 0
	reserve := func(context.Context, string) error {
		attempts++
		return ErrConflict
	}

	// Act
	_, err := g.Generate(context.Background(), reserve)

	// Assert
	require.ErrorIs(t, err, ErrCodeSpaceExhausted)
	require.Equal(t, 3, attempts)
}

func Test_Generate_Does_Not_Retry_Non_Conflict_Errors(t *testing.T) {
	// Arrange
	g := NewCodeGenerator()
	storeErr := errors.New("connection refused")

	attempts := 0
	reserve := func(context.Context, string) error {
		attempts++
		return storeErr
	}

	// Act
	_, err := g.Generate(context.Background(), reserve)

	// Assert
	require.ErrorIs(t, err, storeErr)
	require.Equal(t, 1, attempts)
}

func Test_Generate_Stops_When_Context_Is_Done(t *testing.T) {
	// Arrange
	g := NewCodeGenerator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Act
	_, err := g.Generate(ctx, func(context.Context, string) error { return nil })

	// Assert
	require.ErrorIs(t, err, context.Canceled)
}
