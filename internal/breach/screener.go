package breach

import (
	"bufio"
	"context"
	"crypto/sha1" //nolint:gosec // the range API is keyed by SHA-1
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/config"
)

const prefixLen = 5

// Screener checks candidate passwords against a k-anonymity range API. Only
// the first five hex characters of the SHA-1 digest leave the process.
type Screener struct {
	enabled bool
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewScreener(cfg *config.BreachConfig, log *zap.Logger) *Screener {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Screener{
		enabled: cfg.Enabled,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// IsBreached reports whether password appears in the breach corpus. Lookup
// failures fail open: the password is treated as not breached.
func (s *Screener) IsBreached(ctx context.Context, password string) bool {
	if !s.enabled {
		return false
	}

	prefix, suffix := digest(password)

	found, err := s.lookup(ctx, prefix, suffix)
	if err != nil {
		s.log.Warn("breach lookup failed, allowing password",
			zap.String("prefix", prefix),
			zap.Error(err))
		return false
	}
	return found
}

func (s *Screener) lookup(ctx context.Context, prefix, suffix string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/range/"+prefix, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Add-Padding", "true")
	req.Header.Set("User-Agent", "memorial-auth")

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("range request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("range request: unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		hashSuffix, count, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		// padding rows carry a zero count
		if strings.TrimSpace(count) == "0" {
			continue
		}
		if strings.EqualFold(hashSuffix, suffix) {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("read range response: %w", err)
	}
	return false, nil
}

func digest(password string) (prefix, suffix string) {
	sum := sha1.Sum([]byte(password)) //nolint:gosec
	h := strings.ToUpper(hex.EncodeToString(sum[:]))
	return h[:prefixLen], h[prefixLen:]
}
