package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cenkalti/backoff/v5"
)

func TestDo_roundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing auth header")
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["msg"]})
	}))
	defer srv.Close()

	var out map[string]string
	err := Do(context.Background(), srv.Client(), "test", http.MethodPost, srv.URL,
		map[string]string{"Authorization": "Bearer k"}, map[string]string{"msg": "hi"}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if out["echo"] != "hi" {
		t.Errorf("out = %v", out)
	}
}

func TestDo_classifiesStatus(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		err := Do(context.Background(), srv.Client(), "test", http.MethodGet, srv.URL, nil, nil, nil)
		srv.Close()

		var serr *StatusError
		if !errors.As(err, &serr) || serr.Status != tt.status {
			t.Errorf("status %d: err = %v", tt.status, err)
		}
		var perm *backoff.PermanentError
		if got := errors.As(err, &perm); got != tt.permanent {
			t.Errorf("status %d: permanent = %v, want %v", tt.status, got, tt.permanent)
		}
	}
}
