package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{name: "nil", err: nil, want: ClassNone},
		{name: "connectivity", err: &ConnectivityError{Op: "get", Err: errors.New("dial tcp: refused")}, want: ClassTransient},
		{name: "wrapped connectivity", err: fmt.Errorf("send: %w", &ConnectivityError{Op: "post", Err: errors.New("eof")}), want: ClassTransient},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: ClassTransient},
		{name: "canceled", err: context.Canceled, want: ClassCanceled},
		{name: "server error", err: &RemoteError{StatusCode: 503}, want: ClassTransient},
		{name: "rate limited", err: &RemoteError{StatusCode: 429}, want: ClassTransient},
		{name: "teapot", err: &RemoteError{StatusCode: 418}, want: ClassPermanent},
		{name: "validation", err: &ValidationError{StatusCode: 422, Errors: []string{"title required"}}, want: ClassPermanent},
		{name: "conflict", err: &ConflictError{ResourceType: ResourceSurveys, ResourceID: "s1"}, want: ClassConflict},
		{name: "not found", err: ErrNotFound, want: ClassPermanent},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Fatalf("%s: got %s want %s", tt.name, got, tt.want)
		}
	}
}

func TestStorageErrorUnwraps(t *testing.T) {
	cause := errors.New("database or disk is full")
	err := fmt.Errorf("enqueue: %w", &StorageError{Op: "enqueue", Full: true, Err: cause})

	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if !storageErr.Full {
		t.Fatal("expected full flag")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
}
