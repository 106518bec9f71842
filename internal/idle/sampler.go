package idle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"presence-tracker-backend/config"
)

// Sampler reads how long the user has been idle at the OS level. A failing
// read is expected from time to time (locked session, missing tool); the
// monitor treats any error as confirmed AFK rather than failing.
type Sampler interface {
	Sample(ctx context.Context) (time.Duration, error)
}

// New builds the sampler selected by the configuration.
func New(cfg *config.SamplerConfig) (Sampler, error) {
	switch cfg.Kind {
	case "command":
		return NewCommandSampler(cfg.Command), nil
	case "http":
		return NewHTTPSampler(cfg)
	default:
		return nil, fmt.Errorf("unknown sampler kind %q", cfg.Kind)
	}
}

// CommandSampler shells out to an OS tool that reports idle time. With no
// explicit command it uses `ioreg -c IOHIDSystem` on darwin (HIDIdleTime,
// nanoseconds) and `xprintidle` on everything else (milliseconds).
type CommandSampler struct {
	argv []string
}

// NewCommandSampler creates a sampler running the given argv, or the
// platform default when argv is empty.
func NewCommandSampler(argv []string) *CommandSampler {
	if len(argv) == 0 {
		if runtime.GOOS == "darwin" {
			argv = []string{"/usr/sbin/ioreg", "-c", "IOHIDSystem"}
		} else {
			argv = []string{"xprintidle"}
		}
	}
	return &CommandSampler{argv: argv}
}

func (s *CommandSampler) Sample(ctx context.Context) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("idle command %q failed: %w", s.argv[0], err)
	}
	return ParseIdleOutput(string(out))
}

var hidIdleRe = regexp.MustCompile(`"HIDIdleTime"\s*=\s*([0-9]+)`)

// ParseIdleOutput interprets the output of an idle-time command. A bare
// integer is taken as milliseconds (the xprintidle convention); ioreg output
// is scanned for HIDIdleTime, which is in nanoseconds.
func ParseIdleOutput(out string) (time.Duration, error) {
	trimmed := strings.TrimSpace(out)
	if ms, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	if m := hidIdleRe.FindStringSubmatch(out); len(m) == 2 {
		ns, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse HIDIdleTime %q: %w", m[1], err)
		}
		return time.Duration(ns), nil
	}
	return 0, fmt.Errorf("unrecognized idle command output %q", truncate(trimmed, 80))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// HTTPSampler polls an idle-reporting endpoint. The endpoint returns
// {"idle_seconds": <number>}.
type HTTPSampler struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPSampler creates a sampler for the configured endpoint.
func NewHTTPSampler(cfg *config.SamplerConfig) (*HTTPSampler, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http sampler requires a url")
	}

	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Printf("Warning: Invalid proxy URL %q: %v. Sampler will not use a proxy.", cfg.HTTPProxy, err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &HTTPSampler{
		url:     cfg.URL,
		headers: cfg.Headers,
		client: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}, nil
}

type idleResponse struct {
	IdleSeconds float64 `json:"idle_seconds"`
}

func (s *HTTPSampler) Sample(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed idleResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("failed to unmarshal idle response: %w", err)
	}
	if parsed.IdleSeconds < 0 {
		return 0, fmt.Errorf("endpoint reported negative idle time %f", parsed.IdleSeconds)
	}

	return time.Duration(parsed.IdleSeconds * float64(time.Second)), nil
}
