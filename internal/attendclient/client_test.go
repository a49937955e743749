package attendclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"chainattend/internal/integrity"
)

func TestSubmit(t *testing.T) {
	var got integrity.Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"message":"Attendance recorded","timestamp":1700000000,"id":"r1"}`))
	}))
	defer srv.Close()

	p := integrity.Payload{Name: "Alice", Timestamp: 1700000000, Hash: "5467a654e71faf0d14f73c9c56c82f734e819eba9f0dfc2b73ce8c312fb3644b"}
	res, err := New(srv.URL).Submit(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Fatalf("server got %+v", got)
	}
	if res.Message != "Attendance recorded" || res.Timestamp != 1700000000 || res.ID != "r1" {
		t.Fatalf("unexpected response %+v", res)
	}
}

func TestSubmitErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   int
	}{
		{"mismatch", http.StatusUnprocessableEntity, `{"error":"digest mismatch"}`, http.StatusUnprocessableEntity},
		{"server error", http.StatusInternalServerError, "boom", http.StatusInternalServerError},
		{"non json", http.StatusOK, "ok", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL).Submit(context.Background(), integrity.Payload{Name: "Alice"})
			if err == nil {
				t.Fatal("expected error")
			}
			var se *StatusError
			if tt.code != 0 && (!errors.As(err, &se) || se.Code != tt.code) {
				t.Fatalf("want status %d got %v", tt.code, err)
			}
		})
	}
}
