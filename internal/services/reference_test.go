package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"stratis-backend/internal/logger"
	"stratis-backend/internal/models"
	"stratis-backend/internal/resilience"
)

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		url  string
		want string
		ok   bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ?t=10", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://vimeo.com/12345", "", false},
	}
	for _, tc := range tests {
		got, ok := ExtractVideoID(tc.url)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ExtractVideoID(%q) = %q, %v", tc.url, got, ok)
		}
	}
}

func TestParseCaptionsXML(t *testing.T) {
	xml := `<transcript><text start="0" dur="1">Hello &amp;amp; welcome</text><text start="1" dur="1"> </text><text start="2" dur="1">to tea</text></transcript>`
	got, err := parseCaptionsXML([]byte(xml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Hello & welcome to tea" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractCaptionURL(t *testing.T) {
	page := `..."captionTracks":[{"baseUrl":"https:\/\/www.youtube.com\/api\/timedtext?v=x&lang=en","name":{}}], "audioTracks"...`
	got, err := extractCaptionURL(page)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://www.youtube.com/api/timedtext?v=x&lang=en" {
		t.Fatalf("got %q", got)
	}

	if _, err := extractCaptionURL("<html></html>"); err == nil {
		t.Fatal("expected missing captions to fail")
	}
}

func TestFileExtractService_SaveAndExtract(t *testing.T) {
	docs := NewFileExtractService(t.TempDir())

	id, err := docs.Save("notes.TXT", strings.NewReader("First line\r\n\r\n\r\nSecond line  "))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasSuffix(id, ".txt") {
		t.Fatalf("id should keep the lower-cased extension, got %q", id)
	}

	text, err := docs.ExtractByID(id)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "First line\n\nSecond line" {
		t.Fatalf("text = %q", text)
	}
}

func TestFileExtractService_RejectsBadInput(t *testing.T) {
	docs := NewFileExtractService(t.TempDir())

	_, err := docs.Save("movie.mp4", strings.NewReader("x"))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for unsupported type, got %v", err)
	}

	for _, id := range []string{"../../etc/passwd", "not-a-uuid.txt", "3f1c2d7e-8d4a-4b7e-9a55-2f1e7c9b0a11.txt"} {
		_, err := docs.ExtractByID(id)
		var re *ReferenceError
		if !errors.As(err, &re) {
			t.Errorf("%q: expected ReferenceError, got %v", id, err)
		}
	}
}

func TestWebPageService_PageReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Tea History</title></head><body><nav>Menu</nav><article><h1>Tea History</h1>` +
			strings.Repeat("<p>Tea was first drunk in China many centuries ago and travelled west along trade routes.</p>", 6) +
			`</article></body></html>`))
	}))
	defer srv.Close()

	// The test server is on loopback, which the production client refuses.
	web := &WebPageService{client: srv.Client(), log: logger.Nop()}

	text, err := web.PageReference(context.Background(), srv.URL+"/tea")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "first drunk in China") {
		t.Fatalf("article text missing: %q", text)
	}

	_, err = web.PageReference(context.Background(), srv.URL+"/missing")
	var re *ReferenceError
	if !errors.As(err, &re) {
		t.Fatalf("expected ReferenceError for 404, got %v", err)
	}

	_, err = web.PageReference(context.Background(), "ftp://example.com/file")
	if !errors.As(err, &re) {
		t.Fatalf("expected ReferenceError for bad scheme, got %v", err)
	}
}

func TestWebPageService_RefusesInternalAddresses(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("<html><body><p>internal only</p></body></html>"))
	}))
	defer srv.Close()

	web := NewWebPageService(logger.Nop())

	for _, target := range []string{srv.URL + "/secrets", "http://localhost:" + strconv.Itoa(srv.Listener.Addr().(*net.TCPAddr).Port)} {
		_, err := web.PageReference(context.Background(), target)
		var re *ReferenceError
		if !errors.As(err, &re) {
			t.Fatalf("%s: expected ReferenceError, got %v", target, err)
		}
		if re.Message != "The web page address is not publicly reachable." {
			t.Errorf("%s: message = %q", target, re.Message)
		}
	}
	if n := hits.Load(); n != 0 {
		t.Fatalf("loopback server was reached %d times", n)
	}
}

func TestIsPublicAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"93.184.216.34", true},
		{"2606:4700::1111", true},
		{"127.0.0.1", false},
		{"::1", false},
		{"10.1.2.3", false},
		{"172.16.0.9", false},
		{"192.168.1.1", false},
		{"169.254.169.254", false},
		{"fe80::1", false},
		{"fd00::1", false},
		{"100.64.0.1", false},
		{"0.0.0.0", false},
		{"::ffff:127.0.0.1", false},
	}
	for _, tc := range tests {
		if got := isPublicAddr(netip.MustParseAddr(tc.addr)); got != tc.want {
			t.Errorf("isPublicAddr(%s) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestWebRedirectPolicy(t *testing.T) {
	next := httptest.NewRequest(http.MethodGet, "http://example.com/next", nil)
	if err := checkWebRedirect(next, make([]*http.Request, maxWebPageRedirect-1)); err != nil {
		t.Fatalf("redirect within the limit refused: %v", err)
	}
	if err := checkWebRedirect(next, make([]*http.Request, maxWebPageRedirect)); err == nil {
		t.Fatal("expected too many redirects to be refused")
	}
	file := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	file.URL.Scheme = "file"
	if err := checkWebRedirect(file, nil); err == nil {
		t.Fatal("expected non-http redirect to be refused")
	}
}

func TestReferenceErrorsAreNotRetried(t *testing.T) {
	for _, msg := range []string{
		"The YouTube link could not be recognised.",
		"Captions are not available for this YouTube video.",
		"The web page link could not be recognised.",
		"The web page could not be read.",
		"The web page address is not publicly reachable.",
		"The reference document could not be found.",
		"No readable text was found in the reference document.",
		"Reference material is not enabled on this server.",
	} {
		c := resilience.Classify(&ReferenceError{Message: msg})
		if c.Retryable || c.Message != msg {
			t.Errorf("%q classified as %+v", msg, c)
		}
	}
}

func TestReferenceService_ResolveDocument(t *testing.T) {
	docs := NewFileExtractService(t.TempDir())
	id, err := docs.Save("a.txt", strings.NewReader("Darjeeling notes"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	refs := NewReferenceService(NewYouTubeService(logger.Nop()), NewWebPageService(logger.Nop()), docs)
	text, err := refs.Resolve(context.Background(), &models.Reference{DocumentID: id})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if text != "Darjeeling notes" {
		t.Fatalf("text = %q", text)
	}

	text, err = refs.Resolve(context.Background(), nil)
	if err != nil || text != "" {
		t.Fatalf("nil reference should resolve to nothing, got %q %v", text, err)
	}
}
