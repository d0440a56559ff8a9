package ttserrors

import (
	"errors"
	"testing"
)

func TestNewOKReturnsNilError(t *testing.T) {
	if err := New(OK); err != nil {
		t.Fatalf("New(OK) = %v, want nil", err)
	}
}

func TestNewNonOKReturnsError(t *testing.T) {
	err := New(ResourceBusy)
	if err == nil {
		t.Fatalf("New(ResourceBusy) = nil, want non-nil error")
	}
	if err.Error() != "RESOURCE_BUSY" {
		t.Errorf("Error() = %q, want %q", err.Error(), "RESOURCE_BUSY")
	}
}

func TestCodeOfRoundTrips(t *testing.T) {
	cases := []Code{Fail, NotEnabled, CreateSessionDuplicate, ResourceBusy, NoSessionFound, AppNotFound}
	for _, code := range cases {
		if got := CodeOf(New(code)); got != code {
			t.Errorf("CodeOf(New(%v)) = %v, want %v", code, got, code)
		}
	}
}

func TestCodeOfNilIsOK(t *testing.T) {
	if CodeOf(nil) != OK {
		t.Errorf("CodeOf(nil) = %v, want OK", CodeOf(nil))
	}
}

func TestCodeOfForeignErrorDefaultsToFail(t *testing.T) {
	if got := CodeOf(errors.New("boom")); got != Fail {
		t.Errorf("CodeOf(foreign error) = %v, want Fail", got)
	}
}

func TestErrorsAsExtractsCode(t *testing.T) {
	err := New(SessionNotActive)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("errors.As should unwrap a ttserrors.Error")
	}
	if e.Code != SessionNotActive {
		t.Errorf("unwrapped Code = %v, want SessionNotActive", e.Code)
	}
}

func TestCodeStringUnknownValue(t *testing.T) {
	got := Code(9999).String()
	want := "Code(9999)"
	if got != want {
		t.Errorf("Code(9999).String() = %q, want %q", got, want)
	}
}
