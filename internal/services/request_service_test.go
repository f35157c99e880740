package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-script-catalog/internal/repo"
)

func strp(s string) *string { return &s }

func TestRequestService_CreateValidates(t *testing.T) {
	db := newSvcDB(t)
	s := NewRequestService(db, nil)
	ctx := context.Background()

	if _, err := s.Create(ctx, RequestInput{Title: "ab", Description: "long enough text"}); !errors.Is(err, ErrInvalidMetadata) {
		t.Fatalf("short title: expected ErrInvalidMetadata, got %v", err)
	}
	if _, err := s.Create(ctx, RequestInput{Title: "Valid title", Description: "short"}); !errors.Is(err, ErrInvalidMetadata) {
		t.Fatalf("short description: expected ErrInvalidMetadata, got %v", err)
	}

	r, err := s.Create(ctx, RequestInput{
		Title:       "  CSV   to JSON ",
		Description: "Convert a CSV file into JSON lines.",
		Language:    strp("  "),
		Tags:        strp("csv, json, CSV"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.Title != "CSV to JSON" || r.Fulfilled {
		t.Fatalf("unexpected request: %+v", r)
	}
	if r.Language != nil {
		t.Fatalf("blank language should be stored as nil, got %q", *r.Language)
	}
	if r.Tags == nil || *r.Tags != "csv, json" {
		t.Fatalf("tags not normalized: %v", r.Tags)
	}

	items, total, err := s.ListPage(ctx, 1, 10)
	if err != nil || total != 1 || len(items) != 1 {
		t.Fatalf("ListPage = %d items, total %d, %v", len(items), total, err)
	}
}

func TestRequestService_FulfillBroadcasts(t *testing.T) {
	db := newSvcDB(t)
	n := &fakeNotifier{}
	s := NewRequestService(db, n)
	ctx := context.Background()

	r, err := s.Create(ctx, RequestInput{Title: "Log rotator", Description: "Rotate logs every night."})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Fulfill(ctx, r.ID)
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if !got.Fulfilled {
		t.Fatalf("expected fulfilled request")
	}
	stored, err := repo.GetRequest(ctx, db, r.ID)
	if err != nil || !stored.Fulfilled {
		t.Fatalf("stored request not fulfilled: %+v, %v", stored, err)
	}

	msgs := n.messages()
	if len(msgs) != 1 || msgs[0] != "Script request 'Log rotator' has been fulfilled!" {
		t.Fatalf("unexpected broadcast: %q", msgs)
	}
}

func TestRequestService_FulfillUnknownAndNilNotifier(t *testing.T) {
	db := newSvcDB(t)
	n := &fakeNotifier{}
	s := NewRequestService(db, n)
	ctx := context.Background()

	if _, err := s.Fulfill(ctx, "missing"); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
	if len(n.messages()) != 0 {
		t.Fatalf("unknown id must not broadcast")
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("Get: expected ErrRequestNotFound, got %v", err)
	}

	quiet := NewRequestService(db, nil)
	r, err := quiet.Create(ctx, RequestInput{Title: "Quiet one", Description: "Nobody is listening."})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := quiet.Fulfill(ctx, r.ID); err != nil {
		t.Fatalf("Fulfill without notifier: %v", err)
	}
}

func TestFulfilledMessage(t *testing.T) {
	if got := FulfilledMessage("X"); got != "Script request 'X' has been fulfilled!" {
		t.Fatalf("FulfilledMessage = %q", got)
	}
}
