package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("disk full")
	err := Wrap(CodeDependency, cause, "spooling chunk")

	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to survive errors.Is")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("unexpected code %s", err.Code())
	}
}

func TestAsFindsTypedErrorInChain(t *testing.T) {
	typed := New(CodeChunkIntegrity, "hash mismatch")
	wrapped := fmt.Errorf("accepting chunk 3: %w", typed)

	found := As(wrapped)
	if found == nil {
		t.Fatal("expected typed error in chain")
	}
	if found.Code() != CodeChunkIntegrity {
		t.Fatalf("unexpected code %s", found.Code())
	}
}

func TestMetadataForUnknownCodeFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("NOPE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestDomainCodeStatuses(t *testing.T) {
	cases := map[Code]int{
		CodeChunkIntegrity:    http.StatusUnprocessableEntity,
		CodeUnsupportedFormat: http.StatusUnsupportedMediaType,
		CodePayloadTooLarge:   http.StatusRequestEntityTooLarge,
		CodeTimeout:           http.StatusGatewayTimeout,
	}
	for code, want := range cases {
		if got := MetadataFor(code).HTTPStatus; got != want {
			t.Fatalf("%s: expected %d got %d", code, want, got)
		}
	}
}
