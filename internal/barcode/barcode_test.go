package barcode

import (
	"testing"

	"github.com/google/uuid"
)

func TestEncode_IsDeterministic(t *testing.T) {
	c := New("test-secret-at-least-32-bytes-long!!")
	slipID := uuid.New()

	a := c.Encode("202601011530", slipID)
	b := c.Encode("202601011530", slipID)
	if a != b {
		t.Errorf("Encode is not deterministic: %s != %s", a, b)
	}
	if len(a) != Length {
		t.Errorf("expected length %d, got %d (%s)", Length, len(a), a)
	}
}

func TestEncode_DiffersByInput(t *testing.T) {
	c := New("test-secret-at-least-32-bytes-long!!")
	slipID := uuid.New()

	a := c.Encode("202601011530", slipID)
	b := c.Encode("202601011535", slipID)
	if a == b {
		t.Error("expected different game IDs to produce different barcodes")
	}

	d := c.Encode("202601011530", uuid.New())
	if a == d {
		t.Error("expected different slip IDs to produce different barcodes")
	}
}

func TestVerify(t *testing.T) {
	c := New("test-secret-at-least-32-bytes-long!!")
	slipID := uuid.New()
	code := c.Encode("202601011530", slipID)

	if !c.Verify("202601011530", slipID, code) {
		t.Error("expected Verify to succeed for the code Encode produced")
	}
	if c.Verify("202601011535", slipID, code) {
		t.Error("expected Verify to fail for a mismatched game ID")
	}

	other := New("a-different-secret-entirely-too!!!")
	if other.Verify("202601011530", slipID, code) {
		t.Error("expected Verify to fail when the secret differs")
	}
}

func TestParse(t *testing.T) {
	c := New("test-secret-at-least-32-bytes-long!!")
	code := c.Encode("202601011530", uuid.New())

	got, ok := Parse(code)
	if !ok || got != code {
		t.Errorf("Parse(%s) = %s, %v", code, got, ok)
	}

	if _, ok := Parse("too-short"); ok {
		t.Error("expected Parse to reject a malformed code")
	}
	if _, ok := Parse("0123456789ab!"); ok {
		t.Error("expected Parse to reject a code with invalid characters")
	}
}
