package apierr_test

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/dustnet/relayer/internal/apierr"
	"github.com/dustnet/relayer/pkg/log"
)

func TestWriteKnownErrorUsesItsOwnStatusAndMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	apierr.Write(log.Default(), rec, apierr.New(apierr.LeafOutOfRange, "leaf index out of range"))

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var decoded struct{ Error string }
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Error != "leaf index out of range" {
		t.Fatalf("error message = %q", decoded.Error)
	}
}

func TestWriteUnknownErrorFallsBackToGenericInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	apierr.Write(log.Default(), rec, errors.New("some internal detail the client must never see"))

	if rec.Code != 500 {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var decoded struct{ Error string }
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Error == "some internal detail the client must never see" {
		t.Fatalf("internal error detail leaked to the client")
	}
}

func TestKindRetryable(t *testing.T) {
	if !apierr.ChainUnavailable.Retryable() {
		t.Fatalf("ChainUnavailable should be retryable")
	}
	if apierr.NullifierAlreadySpent.Retryable() {
		t.Fatalf("NullifierAlreadySpent should not be retryable")
	}
}
