package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	readability "github.com/go-shiori/go-readability"

	"stratis-backend/internal/logger"
)

const (
	maxWebPageBytes    = 5 * 1024 * 1024
	maxWebPageRedirect = 5
)

var errBlockedAddress = errors.New("address is not publicly routable")

// sharedAddressSpace is the carrier-grade NAT range, which netip does not
// count as private.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// WebPageService pulls the readable article text out of a web page.
type WebPageService struct {
	client *http.Client
	log    *logger.Logger
}

// NewWebPageService only dials public addresses. The check runs on the
// resolved IP of every connection, redirects included.
func NewWebPageService(log *logger.Logger) *WebPageService {
	dialer := &net.Dialer{Timeout: 10 * time.Second, Control: publicOnlyControl}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &WebPageService{
		client: &http.Client{
			Timeout:       20 * time.Second,
			Transport:     transport,
			CheckRedirect: checkWebRedirect,
		},
		log: log,
	}
}

func checkWebRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxWebPageRedirect {
		return fmt.Errorf("stopped after %d redirects", maxWebPageRedirect)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
	}
	return nil
}

func publicOnlyControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || !isPublicAddr(addr) {
		return fmt.Errorf("%w: %s", errBlockedAddress, host)
	}
	return nil
}

func isPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsUnspecified(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast(),
		sharedAddressSpace.Contains(addr):
		return false
	}
	return true
}

func (s *WebPageService) PageReference(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", &ReferenceError{Message: "The web page link could not be recognised."}
	}

	title, text, err := s.fetch(ctx, parsed)
	if errors.Is(err, errBlockedAddress) {
		s.log.Warn("Web reference blocked", "url", parsed.String(), "error", err)
		return "", &ReferenceError{Message: "The web page address is not publicly reachable."}
	}
	if err != nil {
		s.log.Warn("Web reference fetch failed", "url", parsed.String(), "error", err)
		return "", &ReferenceError{Message: "The web page could not be read."}
	}
	if title == "" {
		return text, nil
	}
	return fmt.Sprintf("Page title: %s\nContent: %s", title, text), nil
}

func (s *WebPageService) fetch(ctx context.Context, u *url.URL) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", "Stratis/1.0 (research assistant)")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("status %d", resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxWebPageBytes), u)
	if err != nil {
		return "", "", err
	}

	text := normalizeExtractedText(article.TextContent)
	if text == "" {
		return "", "", fmt.Errorf("no readable text")
	}
	return strings.TrimSpace(article.Title), text, nil
}
