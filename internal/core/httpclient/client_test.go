package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewOutbound_UserAgentAndRedirects(t *testing.T) {
	var gotUA string
	mux := http.NewServeMux()
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/hop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewOutbound()
	resp, err := c.Get(srv.URL + "/hop")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if gotUA != userAgent {
		t.Fatalf("user agent=%q want %q", gotUA, userAgent)
	}

	if resp, err := c.Get(srv.URL + "/loop"); err == nil {
		_ = resp.Body.Close()
		t.Fatal("expected redirect loop to fail")
	}
}
