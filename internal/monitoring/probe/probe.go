package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/webcanary/webcanary/internal/registry"
)

const userAgent = "webcanary/1.0"

// Status classifies the outcome of one probe.
type Status string

const (
	StatusSuccess      Status = "Success"
	StatusHTTPError    Status = "HttpError"
	StatusNetworkError Status = "NetworkError"
	StatusTimeout      Status = "Timeout"
)

// NetworkErrorKind names the failure class of a NetworkError result.
type NetworkErrorKind string

const (
	NetworkDNS         NetworkErrorKind = "dns"
	NetworkConnRefused NetworkErrorKind = "connection_refused"
	NetworkTLS         NetworkErrorKind = "tls"
	NetworkOther       NetworkErrorKind = "other"
)

// Result is the outcome of a single HTTP probe. LatencyMS and ResponseBytes
// are valid only when their Has* flag is set.
type Result struct {
	TargetID      string
	Timestamp     time.Time
	Status        Status
	HTTPCode      int
	NetworkKind   NetworkErrorKind
	LatencyMS     float64
	HasLatency    bool
	ResponseBytes int64
	HasBytes      bool
}

// ThroughputBPS derives bytes-per-second from the measured latency and body
// size. It is 0 whenever either input is missing or latency is not positive,
// so a throughput value always exists for alerting.
func (r Result) ThroughputBPS() float64 {
	if !r.HasBytes || !r.HasLatency || r.LatencyMS <= 0 {
		return 0
	}
	return float64(r.ResponseBytes) / (r.LatencyMS / 1000)
}

// Prober performs one health check against a target.
type Prober interface {
	Probe(ctx context.Context, target registry.Target) Result
}

// HTTPProber issues a single GET per probe. It never returns an error;
// every failure mode is encoded in the Result status.
type HTTPProber struct {
	Client  *http.Client
	Timeout time.Duration

	// now is overridable in tests
	now func() time.Time
}

func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProber{
		Client: &http.Client{
			Timeout: timeout,
			// a 3xx answer is the endpoint's own response and scores as a
			// failure; following it would grade the redirect destination
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		Timeout: timeout,
		now:     time.Now,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, target registry.Target) Result {
	res := Result{TargetID: target.ID, Timestamp: p.now().UTC()}

	reqCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target.URL, nil)
	if err != nil {
		res.Status = StatusNetworkError
		res.NetworkKind = NetworkOther
		return res
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		res.Status, res.NetworkKind = classifyError(err)
		return res
	}
	defer resp.Body.Close()

	// latency runs from request start to the final body byte
	body, readErr := io.ReadAll(resp.Body)
	res.LatencyMS = float64(time.Since(start)) / float64(time.Millisecond)
	res.HasLatency = true
	res.HTTPCode = resp.StatusCode
	if readErr != nil {
		if isTimeout(readErr) {
			res.Status = StatusTimeout
			res.HasLatency = false
			return res
		}
		// headers arrived but the body did not complete
		res.Status = StatusNetworkError
		res.NetworkKind = NetworkOther
		return res
	}
	res.ResponseBytes = int64(len(body))
	res.HasBytes = true

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.Status = StatusSuccess
	} else {
		res.Status = StatusHTTPError
	}
	return res
}

func classifyError(err error) (Status, NetworkErrorKind) {
	if isTimeout(err) {
		return StatusTimeout, ""
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return StatusNetworkError, NetworkDNS
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return StatusNetworkError, NetworkTLS
	}
	var recErr *tls.RecordHeaderError
	if errors.As(err, &recErr) {
		return StatusNetworkError, NetworkTLS
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var sysErr *os.SyscallError
		if errors.As(opErr.Err, &sysErr) && sysErr.Err == syscall.ECONNREFUSED {
			return StatusNetworkError, NetworkConnRefused
		}
		return StatusNetworkError, NetworkOther
	}
	return StatusNetworkError, NetworkOther
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
