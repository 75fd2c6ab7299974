package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	codes := map[string]string{
		"1234567890": "01",
		"2222222222": "02",
		"3333333333": "03",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.URL.Query().Get("serviceKey"))
		var req statusRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		var data []map[string]string
		for _, n := range req.Numbers {
			if c, ok := codes[n]; ok {
				data = append(data, map[string]string{"b_no": n, "b_stt_cd": c})
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key")
	tests := []struct {
		bizNo string
		want  State
	}{
		{"1234567890", StateActive},
		{"2222222222", StateSuspended},
		{"3333333333", StateClosed},
		{"9999999999", StateNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.bizNo, func(t *testing.T) {
			got, err := c.Lookup(context.Background(), tt.bizNo)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookup_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "key").Lookup(context.Background(), "1234567890")
	assert.Error(t, err)

	_, err = NewClient("", "").Lookup(context.Background(), "1234567890")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestLookup_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewClient(srv.URL, "key").Lookup(ctx, "1234567890")
	require.Error(t, err)
	assert.Contains(t, fmt.Sprint(err), "registry request")
}
