package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeKind(t *testing.T) {
	tests := []struct {
		code Code
		want Kind
	}{
		{CodeInvalidRoute, KindValidation},
		{CodeInsufficientStops, KindValidation},
		{CodeNotFound, KindNotFound},
		{CodeNotAssigned, KindAuthorization},
		{CodeChildrenPending, KindStateConflict},
		{CodeAlreadyDone, KindStateConflict},
		{CodeInternal, KindInternal},
	}
	for _, tt := range tests {
		if got := tt.code.Kind(); got != tt.want {
			t.Errorf("%s.Kind() = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestHasCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("advance: %w", New(CodeChildrenPending, "2 children still on board"))
	if !HasCode(err, CodeChildrenPending) {
		t.Fatal("expected CHILDREN_PENDING in chain")
	}
	if HasCode(err, CodeNoNextStation) {
		t.Fatal("unexpected NO_NEXT_STATION match")
	}
	if got := CodeOf(err); got != CodeChildrenPending {
		t.Fatalf("CodeOf = %s", got)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("load session", cause)
	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable via errors.Is")
	}
	if err.Error() != "load session: connection reset" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if CodeOf(cause) != CodeInternal {
		t.Fatal("foreign errors should map to INTERNAL")
	}
}
