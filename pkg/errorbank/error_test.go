package errorbank

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		err  *AppError
		http int
		grpc codes.Code
	}{
		{BadRequest("x"), http.StatusBadRequest, codes.InvalidArgument},
		{Unauthorized("x"), http.StatusUnauthorized, codes.Unauthenticated},
		{Forbidden("x"), http.StatusForbidden, codes.PermissionDenied},
		{NotFound("x"), http.StatusNotFound, codes.NotFound},
		{Internal("x"), http.StatusInternalServerError, codes.Internal},
		{&AppError{kind: "teapot", message: "x"}, http.StatusInternalServerError, codes.Internal},
		{nil, http.StatusInternalServerError, codes.Internal},
	}
	for _, tt := range tests {
		if got := tt.err.StatusCode(); got != tt.http {
			t.Errorf("%s: StatusCode = %d, want %d", tt.err.Kind(), got, tt.http)
		}
		if got := tt.err.GRPCCode(); got != tt.grpc {
			t.Errorf("%s: GRPCCode = %v, want %v", tt.err.Kind(), got, tt.grpc)
		}
	}
}

func TestFromWrapsPlainErrors(t *testing.T) {
	cause := errors.New("boom")
	appErr := From(fmt.Errorf("query: %w", cause))
	if appErr.Kind() != KindInternal {
		t.Fatalf("Kind = %q, want internal", appErr.Kind())
	}
	if !errors.Is(appErr, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
	if From(nil) != nil {
		t.Error("From(nil) should be nil")
	}
}

func TestIsKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("create: %w", BadRequest("pickup address is required"))
	if !IsKind(err, KindBadRequest) {
		t.Error("wrapped bad request should be detected")
	}
	if IsKind(err, KindInternal) {
		t.Error("bad request must not match internal")
	}
	if IsKind(errors.New("plain"), KindBadRequest) {
		t.Error("plain errors carry no kind")
	}
}

func TestDetailsAndGRPCStatus(t *testing.T) {
	err := NotFound("order not found", WithDetail("order_id", int64(7)), WithDetail("screen", "admin"))
	if err.Details()["order_id"] != int64(7) || err.Details()["screen"] != "admin" {
		t.Errorf("Details = %v", err.Details())
	}
	st, ok := status.FromError(GRPCStatus(err))
	if !ok {
		t.Fatal("expected a gRPC status")
	}
	if st.Code() != codes.NotFound || st.Message() != "order not found" {
		t.Errorf("status = %v %q", st.Code(), st.Message())
	}
}
