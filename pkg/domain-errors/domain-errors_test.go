package domainerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DomainErrorsSuite tests the domain error primitives.
//
// These are the error primitives used at every trust boundary and inside the
// process engine, so invariants like "wrapped domain errors preserve the
// original code" and "recoverability only applies to service failures" must hold.
type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeNotFound, Message: "credential not found"}
		s.Equal("credential not found", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodeNotFound}
		s.Equal("not_found", err.Error())
	})
}

func (s *DomainErrorsSuite) TestUnwrap() {
	inner := errors.New("database connection failed")
	err := &Error{Code: CodeInternal, Message: "service error", Err: inner}
	s.Equal(inner, errors.Unwrap(err))
}

func (s *DomainErrorsSuite) TestWrapPreservesCode() {
	conflict := New(CodeConflict, "credential must be pending")
	wrapped := Wrap(conflict, CodeInternal, "approval failed")
	s.True(HasCode(wrapped, CodeConflict))
	s.Equal("approval failed", wrapped.Error())
}

func (s *DomainErrorsSuite) TestWrapPreservesRecoverable() {
	failure := NewServiceFailure("wallet timeout", true, errors.New("context deadline exceeded"))
	wrapped := Wrap(failure, CodeInternal, "sign step failed")
	s.True(IsRecoverable(wrapped))
}

func (s *DomainErrorsSuite) TestHasCode() {
	s.Run("matches code", func() {
		s.True(HasCode(New(CodeForbidden, "bpn mismatch"), CodeForbidden))
	})

	s.Run("rejects other codes", func() {
		s.False(HasCode(New(CodeForbidden, "bpn mismatch"), CodeConflict))
	})

	s.Run("rejects plain errors", func() {
		s.False(HasCode(errors.New("plain"), CodeForbidden))
	})
}

func (s *DomainErrorsSuite) TestIsRecoverable() {
	s.Run("recoverable service failure", func() {
		s.True(IsRecoverable(NewServiceFailure("wallet 502", true, nil)))
	})

	s.Run("fatal service failure", func() {
		s.False(IsRecoverable(NewServiceFailure("wallet 400", false, nil)))
	})

	s.Run("recoverable flag ignored on other codes", func() {
		s.False(IsRecoverable(&Error{Code: CodeConflict, Recoverable: true}))
	})
}

func (s *DomainErrorsSuite) TestParameters() {
	err := NewWithParameters(CodeConflict, "credential not pending", map[string]string{
		"credentialId": "2f6e0b6c-8e0f-4ac8-b95e-86bd26d41a5e",
		"status":       "PENDING",
	})
	var e *Error
	s.Require().True(errors.As(err, &e))
	s.Equal("PENDING", e.Parameters["status"])
}
