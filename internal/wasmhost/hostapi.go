package wasmhost

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/aegis-network/edge-core/internal/reqctx"
)

// HostAPI is a module's outbound-fetch capability, gated by SSRF
// protection (spec §4.6). Read access to the inbound request and write
// access to the outbound response go through ViewRequest and
// ApplyResponse; no cache handle is provided. Modules never get a raw
// socket or DNS resolver; every outbound call goes through Fetch.
type HostAPI struct {
	httpClient *http.Client
}

// NewHostAPI builds a host API bound to a bounded HTTP client.
func NewHostAPI() *HostAPI {
	return &HostAPI{
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return guardOutbound(req.URL.Hostname())
			},
		},
	}
}

// RequestView is the read-only view of the inbound request a module sees.
type RequestView struct {
	Method string
	URI    string
	Header http.Header
}

// ResponseWrite is what an EdgeFunction module may write back.
type ResponseWrite struct {
	Status int
	Header http.Header
	Body   []byte
}

// ViewRequest projects a reqctx.Context into the bounded, read-only shape
// handed to a module.
func ViewRequest(c *reqctx.Context) RequestView {
	return RequestView{Method: c.Method, URI: c.URI, Header: c.Header}
}

// ApplyResponse writes a module's output back onto the pipeline context.
// Only EdgeFunction-class modules are ever given a path that calls this;
// WAF-class modules are analysis-only.
func ApplyResponse(c *reqctx.Context, w ResponseWrite) {
	c.RespStatus = w.Status
	c.RespHeader = w.Header
	c.RespBody = w.Body
}

// Fetch performs a module-initiated outbound HTTP request, rejecting any
// target that resolves to a private, loopback, or link-local address
// (SSRF protection, spec §4.6).
func (h *HostAPI) Fetch(ctx context.Context, method, rawURL string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("wasmhost: build outbound request: %w", err)
	}
	if err := guardOutbound(req.URL.Hostname()); err != nil {
		return nil, err
	}
	return h.httpClient.Do(req)
}

// guardOutbound rejects hostnames that resolve to non-public address
// space, blocking a module from pivoting into the node's own network.
func guardOutbound(host string) error {
	if host == "" {
		return fmt.Errorf("wasmhost: empty outbound host")
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("wasmhost: resolve outbound host %s: %w", host, err)
	}
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if isBlockedTarget(addr) {
			return fmt.Errorf("wasmhost: outbound fetch to %s blocked: %s is non-public address space", host, addr)
		}
	}
	return nil
}

func isBlockedTarget(addr netip.Addr) bool {
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified()
}
