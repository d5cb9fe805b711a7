package api

import (
	"net/http/httptest"
	"testing"
)

func TestPaginationOpts_Defaults(t *testing.T) {
	req := httptest.NewRequest("GET", "/inbox", nil)
	opts := paginationOpts(req)
	if opts.Limit != 20 || opts.Offset != 0 {
		t.Fatalf("got %+v, want limit=20 offset=0", opts)
	}
}

func TestPaginationOpts_CapsLimit(t *testing.T) {
	req := httptest.NewRequest("GET", "/inbox?limit=500", nil)
	opts := paginationOpts(req)
	if opts.Limit != 100 {
		t.Fatalf("got limit %d, want capped at 100", opts.Limit)
	}
}

func TestPaginationOpts_IgnoresInvalidValues(t *testing.T) {
	req := httptest.NewRequest("GET", "/inbox?limit=not-a-number&offset=-5", nil)
	opts := paginationOpts(req)
	if opts.Limit != 20 || opts.Offset != 0 {
		t.Fatalf("got %+v, want defaults on invalid input", opts)
	}
}

func TestPaginationOpts_HonorsValidValues(t *testing.T) {
	req := httptest.NewRequest("GET", "/inbox?limit=5&offset=10", nil)
	opts := paginationOpts(req)
	if opts.Limit != 5 || opts.Offset != 10 {
		t.Fatalf("got %+v, want limit=5 offset=10", opts)
	}
}
