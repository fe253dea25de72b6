// Package verifier provides a client for the external proof verification
// service that validates source-chain settlement proofs.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bridgeline-hq/bridgeline-settler/pkg/logger"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/metrics"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/models"
)

// verifyRequest is the payload sent to the facilitator's verify endpoint
type verifyRequest struct {
	Proof string `json:"proof"`
}

// verifyResponse carries the facilitator's verdict on a proof
type verifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Client calls the external facilitator to validate source-chain proofs.
// A rejection by the facilitator and an unreachable facilitator are distinct
// outcomes: the first means the proof is bad, the second means the caller
// should retry the same proof later.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

// New creates a new proof verification client
func New(endpoint string, log logger.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: createHTTPClient(),
		logger:     log,
	}
}

// Verify submits the opaque proof string to the facilitator. Returns nil for
// a valid proof, models.ErrInvalidProof when the facilitator explicitly
// rejects it, and models.ErrVerifierUnavailable for transport failures and
// server-side errors.
func (c *Client) Verify(ctx context.Context, proof string) error {
	body, err := json.Marshal(verifyRequest{Proof: proof})
	if err != nil {
		return fmt.Errorf("failed to marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/verify", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Verifier request failed: %v", err)
		metrics.ProofVerifications.WithLabelValues("unavailable").Inc()
		return fmt.Errorf("%w: %v", models.ErrVerifierUnavailable, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("Failed to close verifier response body: %v", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ProofVerifications.WithLabelValues("unavailable").Inc()
		return fmt.Errorf("%w: reading response: %v", models.ErrVerifierUnavailable, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		c.logger.Error("Verifier returned %d: %s", resp.StatusCode, string(respBody))
		metrics.ProofVerifications.WithLabelValues("unavailable").Inc()
		return fmt.Errorf("%w: status %d", models.ErrVerifierUnavailable, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		// The facilitator actively refused the proof
		metrics.ProofVerifications.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: status %d", models.ErrInvalidProof, resp.StatusCode)
	}

	var verdict verifyResponse
	if err := json.Unmarshal(respBody, &verdict); err != nil {
		metrics.ProofVerifications.WithLabelValues("unavailable").Inc()
		return fmt.Errorf("%w: malformed response: %v", models.ErrVerifierUnavailable, err)
	}

	if !verdict.Valid {
		c.logger.Debug("Verifier rejected proof: %s", verdict.Reason)
		metrics.ProofVerifications.WithLabelValues("invalid").Inc()
		if verdict.Reason != "" {
			return fmt.Errorf("%w: %s", models.ErrInvalidProof, verdict.Reason)
		}
		return models.ErrInvalidProof
	}

	metrics.ProofVerifications.WithLabelValues("valid").Inc()
	return nil
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
