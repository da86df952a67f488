package carrier

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/geodekking/pakketpunten/internal/fetcher"
	"github.com/geodekking/pakketpunten/internal/resilience"
)

func testFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:     5 * time.Second,
		Retry:       resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
		DefaultRate: 1000,
	})
}

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func utrechtArea() Area {
	return Area{
		Name:    "Utrecht",
		Center:  orb.Point{5.1, 52.09},
		RadiusM: 9000,
		BBox:    orb.Bound{Min: orb.Point{4.97, 52.03}, Max: orb.Point{5.2, 52.14}},
	}
}
