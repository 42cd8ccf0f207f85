package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	c := New()

	if c.Timeout != defaultTimeout {
		t.Errorf("expected timeout %v, got %v", defaultTimeout, c.Timeout)
	}

	transport, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", c.Transport)
	}

	if transport.MaxIdleConnsPerHost != maxIdleConnsPerHost {
		t.Errorf("expected %d idle conns per host, got %d", maxIdleConnsPerHost, transport.MaxIdleConnsPerHost)
	}
}

func TestNewWithTimeoutDoesNotShareTransport(t *testing.T) {
	a := NewWithTimeout(time.Second)
	b := NewWithTimeout(2 * time.Second)

	if a.Transport == b.Transport {
		t.Error("expected each client to own its transport")
	}

	if a.Transport == http.DefaultTransport {
		t.Error("expected a cloned transport, got http.DefaultTransport")
	}
}
