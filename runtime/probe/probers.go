package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/cascadehq/care/runtime/routing"
)

type (
	// dialProber checks TCP reachability of a host:port target. Used for
	// database and SMTP dependencies where a successful connect is evidence
	// enough within the probe budget.
	dialProber struct {
		dialer *net.Dialer
	}

	// dnsProber resolves the target host.
	dnsProber struct {
		resolver *net.Resolver
	}

	// httpProber issues a HEAD request against the target URL. Used for
	// HTTP, S3, SERVICE and AGENT dependencies.
	httpProber struct {
		client *http.Client
	}

	// redisProber pings the target Redis instance. Clients are cached per
	// target so repeated probes reuse connections.
	redisProber struct {
		mu      sync.Mutex
		clients map[string]*redis.Client
	}

	// apiKeyProber checks that the named environment variable is set and
	// non-empty. The target is the variable name.
	apiKeyProber struct{}
)

// DefaultProbers returns the standard prober set covering every dependency
// type. Callers may override individual entries via Options.Probers.
func DefaultProbers() map[routing.DependencyType]Prober {
	dial := &dialProber{dialer: &net.Dialer{}}
	httpp := &httpProber{client: &http.Client{
		// Redirects count as reachable; don't follow them.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
	return map[routing.DependencyType]Prober{
		routing.DependencyDatabase: dial,
		routing.DependencySMTP:     dial,
		routing.DependencyDNS:      &dnsProber{resolver: net.DefaultResolver},
		routing.DependencyAPIKey:   apiKeyProber{},
		routing.DependencyS3:       httpp,
		routing.DependencyHTTP:     httpp,
		routing.DependencyService:  httpp,
		routing.DependencyAgent:    httpp,
		routing.DependencyRedis:    &redisProber{clients: make(map[string]*redis.Client)},
	}
}

func (p *dialProber) Probe(ctx context.Context, target string) error {
	conn, err := p.dialer.DialContext(ctx, "tcp", hostPort(target))
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	return conn.Close()
}

func (p *dnsProber) Probe(ctx context.Context, target string) error {
	host := target
	if h, _, err := net.SplitHostPort(target); err == nil {
		host = h
	}
	if _, err := p.resolver.LookupHost(ctx, host); err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	return nil
}

func (p *httpProber) Probe(ctx context.Context, target string) error {
	u := target
	if !strings.Contains(u, "://") {
		u = "http://" + u
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", target, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("head %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("head %s: status %d", target, resp.StatusCode)
	}
	return nil
}

func (p *redisProber) Probe(ctx context.Context, target string) error {
	client, err := p.client(target)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis %s: %w", target, err)
	}
	return nil
}

func (p *redisProber) client(target string) (*redis.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[target]; ok {
		return c, nil
	}
	opts := &redis.Options{Addr: target, PoolSize: 1}
	if strings.Contains(target, "://") {
		parsed, err := redis.ParseURL(target)
		if err != nil {
			return nil, fmt.Errorf("parse redis url %s: %w", target, err)
		}
		parsed.PoolSize = 1
		opts = parsed
	}
	c := redis.NewClient(opts)
	p.clients[target] = c
	return c, nil
}

func (apiKeyProber) Probe(_ context.Context, target string) error {
	if target == "" {
		return errors.New("api key variable name is required")
	}
	if os.Getenv(target) == "" {
		return fmt.Errorf("api key %s is not set", target)
	}
	return nil
}

// hostPort normalizes a target into a dialable host:port, extracting the
// host from URL-style targets and defaulting ports by scheme.
func hostPort(target string) string {
	if strings.Contains(target, "://") {
		if u, err := url.Parse(target); err == nil && u.Host != "" {
			if u.Port() != "" {
				return u.Host
			}
			switch u.Scheme {
			case "mongodb":
				return net.JoinHostPort(u.Hostname(), "27017")
			case "postgres", "postgresql":
				return net.JoinHostPort(u.Hostname(), "5432")
			case "mysql":
				return net.JoinHostPort(u.Hostname(), "3306")
			case "smtp":
				return net.JoinHostPort(u.Hostname(), "25")
			default:
				return net.JoinHostPort(u.Hostname(), "443")
			}
		}
	}
	if _, _, err := net.SplitHostPort(target); err == nil {
		return target
	}
	return net.JoinHostPort(target, "5432")
}
