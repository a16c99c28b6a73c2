package hermes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Defaults applied by New when the corresponding Options field is zero.
const (
	DefaultPort           = 4378
	DefaultTimeout        = 30 * time.Second
	DefaultPrintThreshold = 10
)

// SecretHeader carries the shared cluster secret on every request.
const SecretHeader = "Appscale-Secret"

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	// Port is the port the agent listens on.
	Port int

	// Timeout bounds a single request, including reading the body.
	Timeout time.Duration

	// PrintThreshold controls BackendServers logging: server lists shorter
	// than this are logged verbatim, longer ones only as counts.
	PrintThreshold int

	// Logger receives debug and warning messages. Defaults to slog.Default().
	Logger *slog.Logger

	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Client queries Hermes agents. It holds no per-call state and is safe for
// concurrent use.
type Client struct {
	port           int
	printThreshold int
	http           *http.Client
	log            *slog.Logger
}

// New returns a Client built from opts.
func New(opts Options) *Client {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PrintThreshold <= 0 {
		opts.PrintThreshold = DefaultPrintThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		port:           opts.Port,
		printThreshold: opts.PrintThreshold,
		http:           &http.Client{Transport: transport, Timeout: opts.Timeout},
		log:            opts.Logger,
	}
}

// FetchAgentStats sends body to the agent on host at endpoint and decodes the
// JSON reply into out.
//
// Timeouts, refused connections, non-200 replies and undecodable bodies are
// returned as *NodeUnavailableError. Other failures are wrapped and returned
// as is. Nothing is retried.
func (c *Client) FetchAgentStats(ctx context.Context, host, secret, endpoint string, body StatsRequest, out any) error {
	url := c.agentURL(host, endpoint)

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("hermes: encode stats request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("hermes: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransportError(url, err)
	}

	if resp.StatusCode != http.StatusOK {
		return &NodeUnavailableError{
			URL: url,
			Reason: fmt.Sprintf("HTTP %d %s: %s",
				resp.StatusCode, reasonPhrase(resp), strings.TrimSpace(string(raw))),
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &NodeUnavailableError{URL: url, Reason: "malformed JSON response", Err: err}
	}
	return nil
}

func (c *Client) agentURL(host, endpoint string) string {
	return "http://" + agentAddr(host, c.port) + endpoint
}

// reasonPhrase returns the status text the agent sent, which may differ from
// the standard one (e.g. 599 from a proxying agent).
func reasonPhrase(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, code)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// classifyTransportError maps timeouts and refused connections onto
// NodeUnavailableError and wraps everything else.
func classifyTransportError(url string, err error) error {
	switch {
	case isTimeout(err):
		return &NodeUnavailableError{URL: url, Reason: "timed out", Err: err}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &NodeUnavailableError{URL: url, Reason: "connection refused", Err: err}
	}
	return fmt.Errorf("hermes: request %s: %w", url, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
