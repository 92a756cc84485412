package domain

import (
	"errors"
	"testing"
)

func TestValidateVarWrapsErrInvalid(t *testing.T) {
	if err := ValidateVar("ops@example.com", "required,email"); err != nil {
		t.Fatalf("valid address rejected: %v", err)
	}
	for _, v := range []string{"", "ops", "Ops <ops@example.com>"} {
		if err := ValidateVar(v, "required,email"); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%q: expected ErrInvalid, got %v", v, err)
		}
	}
}

func TestValidateStructFlattensFieldErrors(t *testing.T) {
	type input struct {
		Type string `validate:"required,oneof=Import Export"`
		Code string `validate:"omitempty,len=3"`
	}
	err := ValidateStruct(input{Type: "Cruise", Code: "ABCD"})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	want := "invalid input: input.Type failed oneof=Import Export; input.Code failed len=3"
	if err.Error() != want {
		t.Fatalf("message:\n got %q\nwant %q", err.Error(), want)
	}
}
