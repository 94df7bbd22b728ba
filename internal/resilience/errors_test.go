package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
)

type storeDown struct{}

func (storeDown) Error() string   { return "store unavailable" }
func (storeDown) Transient() bool { return true }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid nav"), false},
		{"transient error", NewTransientError(errors.New("503"), 503), true},
		{"wrapped transient", eris.Wrap(NewTransientError(errors.New("429"), 429), "mfapi"), true},
		{"domain transient", eris.Wrap(storeDown{}, "get nav"), true},
		{"net timeout", timeoutErr{}, true},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{"canceled", fmt.Errorf("query: %w", context.Canceled), false},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"reset string", errors.New("read tcp: connection reset by peer"), true},
		{"eof string", errors.New("unexpected EOF"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to not be transient", code)
		}
	}
}
