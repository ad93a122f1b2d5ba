package utils

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyTransportError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      int
		temporary bool
		rejected  bool
	}{
		{"mailbox busy", &textproto.Error{Code: 450, Msg: "mailbox busy"}, 450, true, false},
		{"greylisted", fmt.Errorf("dial: %w", &textproto.Error{Code: 421, Msg: "try later"}), 421, true, false},
		{"auth failure", &textproto.Error{Code: 535, Msg: "bad credentials"}, 535, true, false},
		{"unknown mailbox", &textproto.Error{Code: 550, Msg: "no such user"}, 550, false, true},
		{"relay denied", &textproto.Error{Code: 554, Msg: "transaction failed"}, 554, false, false},
		{"timeout", context.DeadlineExceeded, 0, true, false},
		{"enhanced status", errors.New("gomail: 5.1.1 user unknown"), 0, false, false},
		{"connection reset", errors.New("connection reset by peer"), 0, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := ClassifyTransportError(tt.err)
			require.NotNil(t, te)
			assert.Equal(t, tt.code, te.Code)
			assert.Equal(t, tt.temporary, te.Temporary)
			assert.Equal(t, tt.rejected, te.RecipientRejected())
			assert.True(t, errors.Is(te, ErrTransport))
		})
	}

	assert.Nil(t, ClassifyTransportError(nil))
}

func TestClassifyTransportErrorKeepsExisting(t *testing.T) {
	original := &TransportError{Code: 451, Temporary: true, Err: errors.New("local error")}
	wrapped := fmt.Errorf("deliver: %w", original)

	assert.Same(t, original, ClassifyTransportError(wrapped))
}

func TestErrorCategories(t *testing.T) {
	storage := NewStorageError("insert email job", errors.New("disk full"))
	assert.True(t, errors.Is(storage, ErrStorage))
	assert.False(t, errors.Is(storage, ErrNotFound))
	assert.Equal(t, "insert email job: disk full", storage.Error())

	notFound := NewNotFoundError("sequence", uint(7))
	assert.True(t, errors.Is(fmt.Errorf("load: %w", notFound), ErrNotFound))
	assert.Equal(t, "sequence 7 not found", notFound.Error())

	validation := NewValidationError("name is required", "nodes is required")
	var ve *ValidationError
	require.True(t, errors.As(validation, &ve))
	assert.Equal(t, []string{"name is required", "nodes is required"}, ve.Problems)
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, 400, StatusForError(NewValidationError("bad")))
	assert.Equal(t, 404, StatusForError(NewNotFoundError("email", 1)))
	assert.Equal(t, 500, StatusForError(NewStorageError("op", errors.New("boom"))))
	assert.Equal(t, 500, StatusForError(errors.New("unexpected")))
}
