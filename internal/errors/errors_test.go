package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidInputError_UnwrapsToSentinel(t *testing.T) {
	err := fmt.Errorf("generate csr: %w", Invalid("keysize", "1024", "minimum allowed key size is 2048"))

	assert.ErrorIs(t, err, ErrInvalidInput)
	var invalid *InvalidInputError
	assert.True(t, errors.As(err, &invalid))
	assert.Equal(t, "keysize", invalid.Field)
	assert.Contains(t, err.Error(), "'1024'")
}

func TestRemoteCommandError_Message(t *testing.T) {
	err := &RemoteCommandError{Server: "mail.example.com", Command: []string{"zmcertmgr", "createcsr", "self"}, ExitCode: 2, Stderr: "boom"}

	assert.ErrorIs(t, err, ErrRemoteCommand)
	assert.Contains(t, err.Error(), "zmcertmgr createcsr self")
	assert.Contains(t, err.Error(), "exit code=2")
	assert.Contains(t, err.Error(), "boom")
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{Invalid("C", "USA", "bad"), "invalid_input"},
		{fmt.Errorf("%w: server x", ErrNotFound), "not_found"},
		{ErrUnauthorized, "permission_denied"},
		{&RemoteCommandError{}, "remote_command_failed"},
		{fmt.Errorf("%w: chain", ErrVerification), "verification_failed"},
		{ErrIllegalState, "illegal_state"},
		{ErrParse, "parse_failure"},
		{ErrIO, "io_failure"},
		{ErrSessionExpired, "unauthenticated"},
		{ErrInvalidCredentials, "unauthenticated"},
		{fmt.Errorf("%w: 3 bytes", ErrUploadTooLarge), "too_large"},
		{errors.New("other"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err))
	}
}

func TestFromKind_RoundTrips(t *testing.T) {
	for _, sentinel := range []error{
		ErrSessionExpired, ErrUploadTooLarge, ErrInvalidInput, ErrNotFound, ErrUnauthorized,
		ErrVerification, ErrRemoteCommand, ErrIllegalState, ErrParse, ErrIO,
	} {
		assert.ErrorIs(t, FromKind(Kind(sentinel)), sentinel)
	}
	assert.Nil(t, FromKind("internal"))
	assert.Nil(t, FromKind(""))
}
