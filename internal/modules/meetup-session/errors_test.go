package meetupsession

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/core"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/domain"

	"github.com/stretchr/testify/require"
)

func Test_CommandError_Maps_Domain_Errors_To_Status_Codes(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrValidation, http.StatusBadRequest},
		{domain.ErrSessionNotFound, http.StatusNotFound},
		{domain.ErrNotOwner, http.StatusForbidden},
		{domain.ErrSessionClosed, http.StatusConflict},
		{domain.ErrSessionFull, http.StatusConflict},
		{domain.ErrOwnerCannotLeave, http.StatusConflict},
		{domain.ErrTimeout, http.StatusServiceUnavailable},
		{domain.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{domain.ErrCodeSpaceExhausted, http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			// Arrange
			wrapped := fmt.Errorf("handler: %w", tt.err)

			// Act
			err := CommandError(wrapped)

			// Assert
			commandErr, ok := core.AsCommandError(err)
			require.True(t, ok)
			require.Equal(t, tt.status, commandErr.StatusCode)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func Test_CommandError_Keeps_Existing_Command_Error(t *testing.T) {
	original := core.NewCommandError(http.StatusTeapot, errors.New("teapot"))

	err := CommandError(original)

	require.Equal(t, original, err)
}

func Test_CommandError_Returns_Nil_For_Nil(t *testing.T) {
	require.NoError(t, CommandError(nil))
}
