package categorizer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"statement-import-service/internal/models"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// ClassifyRequest is the payload sent to the external classifier.
type ClassifyRequest struct {
	Categories   models.CategoryTaxonomy `json:"categories"`
	Transactions []ClassifyTransaction   `json:"transactions"`
}

// ClassifyTransaction is the classifier's view of one record.
type ClassifyTransaction struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
}

// ClassifyResult is one classifier verdict.
type ClassifyResult struct {
	ID            string  `json:"id"`
	CategoryID    string  `json:"categoryId"`
	SubcategoryID string  `json:"subcategoryId,omitempty"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning,omitempty"`
}

// Classifier is the external categorization collaborator. A response
// may cover any subset of the requested ids; callers resolve the rest
// through the fallback rules.
type Classifier interface {
	Classify(ctx context.Context, request *ClassifyRequest) ([]ClassifyResult, error)
}

// ClientConfig configures the HTTP classifier client.
type ClientConfig struct {
	// BaseURL is the classifier service root, e.g. "http://classifier:8080".
	BaseURL string `json:"base_url"`

	// Timeout is the hard wall-clock limit per call.
	Timeout time.Duration `json:"timeout"`

	// MaxAttempts bounds retries for retryable failures.
	MaxAttempts int `json:"max_attempts"`

	// RetryBaseDelay is the first backoff step; it doubles per attempt.
	RetryBaseDelay time.Duration `json:"retry_base_delay"`

	// CacheTTL is the response cache lifetime.
	CacheTTL time.Duration `json:"cache_ttl"`
}

// DefaultClientConfig returns a configuration with sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:        30 * time.Second,
		MaxAttempts:    3,
		RetryBaseDelay: 500 * time.Millisecond,
		CacheTTL:       5 * time.Minute,
	}
}

// Validate checks if the client configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "classifier.base_url", "", nil)
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "classifier.base_url", c.BaseURL, err)
	}
	if c.Timeout <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "classifier.timeout", c.Timeout, nil)
	}
	if c.MaxAttempts < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "classifier.max_attempts", c.MaxAttempts, nil)
	}
	return nil
}

const classifyEndpoint = "/v1/classify"

// HTTPClassifier calls the classifier service over HTTP with bounded
// retries and a TTL response cache.
type HTTPClassifier struct {
	config     *ClientConfig
	httpClient *http.Client
	cache      *ResponseCache
	logger     logger.Logger
	sleep      func(time.Duration)
}

// NewHTTPClassifier creates a classifier client. A nil httpClient gets
// a default client bound to the configured timeout; a nil cache
// disables memoization.
func NewHTTPClassifier(config *ClientConfig, httpClient *http.Client, cache *ResponseCache) (*HTTPClassifier, error) {
	if config == nil {
		config = DefaultClientConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &HTTPClassifier{
		config:     config,
		httpClient: httpClient,
		cache:      cache,
		logger:     logger.GetGlobalLogger().WithComponent("classifier_client"),
		sleep:      time.Sleep,
	}, nil
}

// Classify sends one bounded batch to the classifier. Retryable
// failures (connection errors, timeouts, 5xx) back off exponentially up
// to MaxAttempts; everything else fails on the first attempt.
func (hc *HTTPClassifier) Classify(ctx context.Context, request *ClassifyRequest) ([]ClassifyResult, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "marshal classify request", err)
	}

	key := CacheKey(classifyEndpoint, http.MethodPost, body)
	if hc.cache != nil {
		if cached, ok := hc.cache.Get(key); ok {
			hc.logger.Debug("Classifier response served from cache")
			return decodeResults(cached)
		}
	}

	var lastErr error
	delay := hc.config.RetryBaseDelay

	for attempt := 1; attempt <= hc.config.MaxAttempts; attempt++ {
		raw, err := hc.doRequest(ctx, body)
		if err == nil {
			results, decodeErr := decodeResults(raw)
			if decodeErr != nil {
				return nil, decodeErr
			}
			if hc.cache != nil {
				hc.cache.Put(key, raw)
			}
			return results, nil
		}

		lastErr = err
		if !errors.IsRetryable(err) {
			return nil, err
		}

		if attempt < hc.config.MaxAttempts {
			hc.logger.WithError(err).WithFields(logger.Fields{
				"attempt": attempt,
				"delay":   delay.String(),
			}).Warn("Classifier call failed, retrying")
			hc.sleep(delay)
			delay *= 2
		}
	}

	return nil, lastErr
}

// doRequest performs one HTTP exchange and maps failures onto the
// error taxonomy.
func (hc *HTTPClassifier) doRequest(ctx context.Context, body []byte) ([]byte, error) {
	endpoint := hc.config.BaseURL + classifyEndpoint

	ctx, cancel := context.WithTimeout(ctx, hc.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "build classify request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.httpClient.Do(req)
	if err != nil {
		// Deadline expiry and transport failures are the same thing to
		// the caller.
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.NetworkError(errors.CodeTimeout, endpoint, err)
		}
		return nil, errors.NetworkError(errors.CodeConnectionFailed, endpoint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NetworkError(errors.CodeConnectionFailed, endpoint, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return payload, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.NetworkError(errors.CodeAuthentication, endpoint, nil).
			WithContext("status", resp.StatusCode)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, errors.NetworkError(errors.CodeServiceUnavailable, endpoint, nil).
			WithContext("status", resp.StatusCode)
	default:
		return nil, errors.CategorizationError(errors.CodeClassifierUnavailable, resp.Status, nil).
			WithContext("status", resp.StatusCode)
	}
}

// decodeResults parses the classifier response body. A body that is not
// the documented array shape becomes a typed malformed-response error
// that routes the batch into fallback.
func decodeResults(raw []byte) ([]ClassifyResult, error) {
	var results []ClassifyResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, errors.CategorizationError(errors.CodeMalformedResponse, "classifier response is not a result array", err)
	}
	return results, nil
}
