package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"stream open", fmt.Errorf("opening corpus: %w", ErrStreamOpen), http.StatusNotFound},
		{"invalid input", ErrInvalidInput, http.StatusBadRequest},
		{"capacity", fmt.Errorf("merge: %w", ErrCapacityExceeded), http.StatusInsufficientStorage},
		{"timeout", ErrTimeout, http.StatusGatewayTimeout},
		{"app error wins", New(ErrInternal, http.StatusTeapot, "short and stout"), http.StatusTeapot},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusCode(tt.err); got != tt.want {
				t.Errorf("HTTPStatusCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrWorkerFailed, http.StatusInternalServerError, "worker %d exited", 3)
	if !errors.Is(err, ErrWorkerFailed) {
		t.Error("expected AppError to unwrap to its sentinel")
	}
	if err.Error() != "worker failed: worker 3 exited" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
