package executor

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/router-for-me/CodeBuddyAPI/internal/config"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// clientCache lazily builds the shared upstream client and rebuilds it only
// when the transport-relevant settings change.
type clientCache struct {
	mu     sync.Mutex
	key    string
	client *http.Client
}

type clientSettings struct {
	timeout        time.Duration
	connectTimeout time.Duration
	maxIdleConns   int
	maxConns       int
	sslVerify      bool
	proxyURL       string
}

func settingsFrom(cfg *config.Config) clientSettings {
	return clientSettings{
		timeout:        cfg.Upstream.GetTimeout(),
		connectTimeout: cfg.Upstream.GetConnectTimeout(),
		maxIdleConns:   cfg.Upstream.GetMaxIdleConns(),
		maxConns:       cfg.Upstream.GetMaxConns(),
		sslVerify:      cfg.SSLVerify,
		proxyURL:       strings.TrimSpace(cfg.ProxyURL),
	}
}

func (s clientSettings) cacheKey() string {
	return fmt.Sprintf("%s|%s|%d|%d|%t|%s", s.timeout, s.connectTimeout, s.maxIdleConns, s.maxConns, s.sslVerify, s.proxyURL)
}

// get returns the cached client for cfg, building it on first use.
func (c *clientCache) get(cfg *config.Config) (*http.Client, error) {
	settings := settingsFrom(cfg)
	key := settings.cacheKey()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.key == key {
		return c.client, nil
	}

	client, err := newUpstreamClient(settings)
	if err != nil {
		return nil, err
	}
	if c.client != nil {
		c.client.CloseIdleConnections()
		log.Debug("codebuddy executor: upstream client rebuilt after config change")
	}
	c.client, c.key = client, key
	return client, nil
}

// close releases idle upstream connections.
func (c *clientCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
		c.key = ""
	}
}

func newUpstreamClient(s clientSettings) (*http.Client, error) {
	dialer := &net.Dialer{Timeout: s.connectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          s.maxIdleConns,
		MaxIdleConnsPerHost:   s.maxIdleConns,
		MaxConnsPerHost:       s.maxConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   s.connectTimeout,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: s.timeout,
		ForceAttemptHTTP2:     true,
	}
	if !s.sslVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via ssl-verify: false
	}

	if s.proxyURL != "" {
		u, err := url.Parse(s.proxyURL)
		if err != nil {
			return nil, fmt.Errorf("codebuddy executor: invalid proxy-url: %w", err)
		}
		switch u.Scheme {
		case "http", "https":
			transport.Proxy = http.ProxyURL(u)
		case "socks5", "socks5h":
			socks, errProxy := proxy.FromURL(u, dialer)
			if errProxy != nil {
				return nil, fmt.Errorf("codebuddy executor: socks proxy: %w", errProxy)
			}
			if ctxDialer, ok := socks.(proxy.ContextDialer); ok {
				transport.DialContext = ctxDialer.DialContext
			} else {
				transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return socks.Dial(network, addr)
				}
			}
		default:
			return nil, fmt.Errorf("codebuddy executor: unsupported proxy scheme %q", u.Scheme)
		}
	}

		// No Client.Timeout: it would also cap body reads. Idle body reads are
	// bounded per request by newIdleTimeoutBody.
	return &http.Client{Transport: transport}, nil
}
