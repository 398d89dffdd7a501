package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *SessionError
		want string
	}{
		{
			name: "basic error",
			err:  NewSessionError("delete failed", nil),
			want: "session error: delete failed",
		},
		{
			name: "with cause",
			err:  NewSessionError("reload failed", ErrSessionNotFound),
			want: "session error: reload failed: session not found",
		},
		{
			name: "with session ID",
			err:  NewSessionError("setup failed", nil).WithSessionID("alice"),
			want: "session error [session=alice]: setup failed",
		},
		{
			name: "with session ID and cause",
			err:  NewSessionError("remove directory", ErrPathTraversal).WithSessionID("bob"),
			want: "session error [session=bob]: remove directory: directory traversal detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionError_Is(t *testing.T) {
	err := NewSessionError("test", ErrSessionNotFound).WithSessionID("alice")

	if !Is(err, &SessionError{}) {
		t.Error("Is(SessionError{}) = false, want true")
	}
	if !Is(err, ErrSessionNotFound) {
		t.Error("Is(ErrSessionNotFound) = false, want true")
	}
	if Is(err, ErrSessionExists) {
		t.Error("Is(ErrSessionExists) = true, want false")
	}
}

func TestClientError(t *testing.T) {
	cause := Join(ErrInitialization, fmt.Errorf("exec: chrome not found"))
	err := NewClientError("launch browser", cause).
		WithSessionID("alice").
		WithOperation("initialize")

	want := "client error [session=alice, op=initialize]: launch browser: client initialization failed\nexec: chrome not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrInitialization) {
		t.Error("Is(ErrInitialization) = false, want true")
	}
	if !Is(err, &ClientError{}) {
		t.Error("Is(ClientError{}) = false, want true")
	}
	if Is(err, ErrTeardown) {
		t.Error("Is(ErrTeardown) = true, want false")
	}
	if IsRetryable(err) {
		t.Error("IsRetryable() = true, want false by default")
	}
	if !IsRetryable(err.WithRetryable(true)) {
		t.Error("IsRetryable() = false after WithRetryable(true)")
	}
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("session", "alice")

	if got, want := err.Error(), `session "alice" not found`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrSessionNotFound) {
		t.Error("Is(ErrSessionNotFound) = false, want true")
	}
	if !Is(err, &NotFoundError{}) {
		t.Error("Is(NotFoundError{}) = false, want true")
	}

	other := NewNotFoundError("channel", "alice")
	if Is(other, ErrSessionNotFound) {
		t.Error("channel NotFoundError matched ErrSessionNotFound")
	}
}

func TestAlreadyExistsError(t *testing.T) {
	err := NewAlreadyExistsError("session", "alice")

	if got, want := err.Error(), `session "alice" already exists`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrSessionExists) {
		t.Error("Is(ErrSessionExists) = false, want true")
	}
	if GetSeverity(err) != SeverityInfo {
		t.Errorf("GetSeverity() = %v, want info", GetSeverity(err))
	}

	var ae *AlreadyExistsError
	wrapped := fmt.Errorf("setup: %w", err)
	if !As(wrapped, &ae) || ae.ResourceID != "alice" {
		t.Errorf("As() did not recover AlreadyExistsError from %v", wrapped)
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "message only",
			err:  NewValidationError("identity is empty"),
			want: "validation error: identity is empty",
		},
		{
			name: "with field and value",
			err:  NewValidationError("identity contains invalid characters").WithField("id").WithValue("../x"),
			want: "validation error [field=id]: identity contains invalid characters (got: ../x)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !Is(tt.err, ErrInvalidInput) {
				t.Error("Is(ErrInvalidInput) = false, want true")
			}
		})
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("browser close", 5*time.Second)

	if got, want := err.Error(), "browser close timed out after 5s"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrTimeout) {
		t.Error("Is(ErrTimeout) = false, want true")
	}
	if !IsRetryable(err) {
		t.Error("IsRetryable() = false, want true")
	}
	if IsSoft(err) {
		t.Error("IsSoft() = true before AsSoft")
	}

	soft := NewTimeoutError("disconnect wait", 10*time.Second).AsSoft()
	if !IsSoft(fmt.Errorf("delete: %w", soft)) {
		t.Error("IsSoft() = false for wrapped soft timeout")
	}
	if GetSeverity(soft) != SeverityInfo {
		t.Errorf("GetSeverity() = %v, want info", GetSeverity(soft))
	}
}

func TestPathTraversalError(t *testing.T) {
	err := NewPathTraversalError("evil", "/etc", "/data/sessions")

	if !Is(err, ErrPathTraversal) {
		t.Error("Is(ErrPathTraversal) = false, want true")
	}
	if GetSeverity(err) != SeverityCritical {
		t.Errorf("GetSeverity() = %v, want critical", GetSeverity(err))
	}
	want := `invalid path for session "evil": /etc escapes /data/sessions`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestClassificationHelpers_Nil(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("IsRetryable(nil) = true")
	}
	if IsSoft(nil) {
		t.Error("IsSoft(nil) = true")
	}
	if GetSeverity(nil) != SeverityDebug {
		t.Error("GetSeverity(nil) != debug")
	}
	if GetSeverity(New("plain")) != SeverityError {
		t.Error("GetSeverity(plain) != error")
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "context") != nil {
		t.Error("Wrapf(nil) != nil")
	}
	err := Wrapf(ErrTeardown, "logout %s", "alice")
	if got, want := err.Error(), "logout alice: client teardown failed"; got != want {
		t.Errorf("Wrapf() = %q, want %q", got, want)
	}
	if !Is(err, ErrTeardown) {
		t.Error("Wrapf lost the cause")
	}
}
