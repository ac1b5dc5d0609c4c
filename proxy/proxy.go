// Package proxy is the embedded capture proxy the browser and the
// replay tool route through. Plain HTTP exchanges are recorded in full
// into a bounded history; CONNECT requests are tunneled without
// interception, so TLS traffic appears only as the CONNECT entry.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/strixlabs/strix/config"
	"github.com/strixlabs/strix/internal/metrics"
)

const maxCapturedBody = 1 << 20 // 1 MiB per body

// Server is the forward proxy.
type Server struct {
	cfg     config.ProxyConfig
	logger  *zap.Logger
	history *History
	client  *http.Client
	metrics *metrics.Collector

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
}

// NewServer creates a proxy server with a fresh history.
func NewServer(cfg config.ProxyConfig, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		history: NewHistory(cfg.HistoryCapacity),
		client: &http.Client{
			Timeout: 60 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// History exposes the capture ring for the proxy_* tools.
func (s *Server) History() *History { return s.history }

// SetMetrics attaches a collector counting captured exchanges. Must be
// called before Start.
func (s *Server) SetMetrics(c *metrics.Collector) { s.metrics = c }

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.ListenAddr
	}
	return s.listener.Addr().String()
}

// URL returns the proxy URL clients should use.
func (s *Server) URL() string { return "http://" + s.Addr() }

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("proxy listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln
	s.srv = &http.Server{Handler: s}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("proxy server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("capture proxy listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Close shuts the proxy down.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.handleConnect(w, r)
		return
	}
	if !r.URL.IsAbs() {
		http.Error(w, "proxy expects absolute-form requests", http.StatusBadRequest)
		return
	}
	s.handleHTTP(w, r)
}

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	// bodies stream through untouched; only the history copy is capped
	reqCap := newBodyCapture(maxCapturedBody)
	var reqBody io.Reader = io.TeeReader(r.Body, reqCap)
	if r.ContentLength == 0 {
		reqBody = http.NoBody
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), reqBody)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out.ContentLength = r.ContentLength
	copyHeaders(out.Header, r.Header)
	stripHopHeaders(out.Header)

	resp, err := s.client.Do(out)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		s.record(r, reqCap.Bytes(), http.StatusBadGateway, nil, nil, time.Since(start))
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	stripHopHeaders(w.Header())
	w.WriteHeader(resp.StatusCode)

	respCap := newBodyCapture(maxCapturedBody)
	if _, err := io.Copy(w, io.TeeReader(resp.Body, respCap)); err != nil {
		s.logger.Debug("relay response body", zap.Error(err))
	}

	s.record(r, reqCap.Bytes(), resp.StatusCode, resp.Header, respCap.Bytes(), time.Since(start))
}

// bodyCapture retains the first max bytes of a stream for the history
// while letting the rest flow through. Write never fails so it is safe
// as a TeeReader target.
type bodyCapture struct {
	buf bytes.Buffer
	max int
}

func newBodyCapture(max int) *bodyCapture { return &bodyCapture{max: max} }

func (c *bodyCapture) Write(p []byte) (int, error) {
	if room := c.max - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *bodyCapture) Bytes() []byte { return c.buf.Bytes() }

// handleConnect tunnels TLS without interception.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	upstream, err := net.DialTimeout("tcp", r.Host, 10*time.Second)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		upstream.Close()
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hj.Hijack()
	if err != nil {
		upstream.Close()
		return
	}
	clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))

	s.history.Add(&Exchange{
		Time:   start,
		Method: http.MethodConnect,
		URL:    r.Host,
		Host:   hostOnly(r.Host),
		Status: http.StatusOK,
	})
	if s.metrics != nil {
		s.metrics.RecordProxyExchange()
	}

	go tunnel(upstream, clientConn)
	go tunnel(clientConn, upstream)
}

func tunnel(dst, src net.Conn) {
	defer dst.Close()
	defer src.Close()
	io.Copy(dst, src)
}

func (s *Server) record(r *http.Request, reqBody []byte, status int, respHeaders http.Header, respBody []byte, d time.Duration) {
	e := &Exchange{
		Time:        time.Now().Add(-d),
		Method:      r.Method,
		URL:         r.URL.String(),
		Host:        r.URL.Hostname(),
		Path:        r.URL.RequestURI(),
		ReqHeaders:  flattenHeaders(r.Header),
		ReqBody:     reqBody,
		Status:      status,
		RespHeaders: flattenHeaders(respHeaders),
		RespBody:    respBody,
		Duration:    d,
	}
	s.history.Add(e)
	if s.metrics != nil {
		s.metrics.RecordProxyExchange()
	}
}

// Replay re-sends a captured exchange, optionally overriding method,
// headers or body, and records the new exchange too.
func (s *Server) Replay(ctx context.Context, id int64, mods ReplayMods) (*Exchange, error) {
	orig := s.history.Get(id)
	if orig == nil {
		return nil, fmt.Errorf("no captured request with id %d", id)
	}
	if orig.Method == http.MethodConnect {
		return nil, fmt.Errorf("request %d is a CONNECT tunnel and cannot be replayed", id)
	}

	method := orig.Method
	if mods.Method != "" {
		method = mods.Method
	}
	body := orig.ReqBody
	if mods.Body != nil {
		body = mods.Body
	}
	u := orig.URL
	if mods.URL != "" {
		u = mods.URL
	}

	req, err := http.NewRequestWithContext(ctx, method, u, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	for k, v := range orig.ReqHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range mods.Headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}
	stripHopHeaders(req.Header)

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxCapturedBody))

	e := &Exchange{
		Time:        start,
		Method:      method,
		URL:         u,
		Host:        req.URL.Hostname(),
		Path:        req.URL.RequestURI(),
		ReqHeaders:  flattenHeaders(req.Header),
		ReqBody:     body,
		Status:      resp.StatusCode,
		RespHeaders: flattenHeaders(resp.Header),
		RespBody:    respBody,
		Duration:    time.Since(start),
	}
	s.history.Add(e)
	return e, nil
}

// ReplayMods describes modifications to apply when replaying. An empty
// header value deletes the header.
type ReplayMods struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

var hopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive", "Proxy-Authenticate",
	"Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

func stripHopHeaders(h http.Header) {
	for _, k := range hopHeaders {
		h.Del(k)
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func flattenHeaders(h http.Header) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[k] = strings.Join(vs, ", ")
	}
	return out
}

func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}
