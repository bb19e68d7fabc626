// Package dispatch executes watering commands against the field valve
// controller and owns the in-flight run registry: at most one actuation per
// plot at a time, with cancellation for user-initiated stops.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"miraqua/internal/config"
	"miraqua/internal/external"
	"miraqua/internal/types"
)

// Controller sends actuation commands to the irrigation controller.
type Controller interface {
	Send(ctx context.Context, cmd types.CommandMessage) (*types.CommandAck, error)
}

// HTTPController talks to the controller's HTTP command endpoint through the
// shared resilient client. Retries and circuit breaking happen inside the
// client; this layer maps outcomes onto the dispatch error taxonomy.
type HTTPController struct {
	base          *external.BaseClient
	controllerURL string
	apiKey        types.SecretString
	logger        *slog.Logger
}

// NewHTTPController builds the controller client from configuration.
func NewHTTPController(cfg config.DispatchConfig, logger *slog.Logger) *HTTPController {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	policy := external.DefaultRetryPolicy()
	policy.MaxRetries = cfg.MaxRetries
	base := external.NewBaseClient(
		httpClient,
		"valve-controller",
		policy,
		"miraqua-dispatch/1.0",
		types.ErrCodeUpstreamController,
	)
	return &HTTPController{
		base:          base,
		controllerURL: cfg.ControllerURL,
		apiKey:        cfg.APIKey,
		logger:        logger,
	}
}

// Send posts one command and decodes the controller's acknowledgement.
//
// Error mapping:
//   - transport failures, timeouts, 5xx after retries: dispatch_failed_transient
//   - 4xx or an ack with Accepted=false: dispatch_failed_persistent
func (c *HTTPController) Send(ctx context.Context, cmd types.CommandMessage) (*types.CommandAck, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"encoding controller command", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.controllerURL+"/commands", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"building controller request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := c.apiKey.Reveal(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		// The resilient client already exhausted retries; the controller is
		// unreachable or persistently failing.
		return nil, types.NewAppError(types.ErrCodeDispatchTransient,
			"controller unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, types.NewAppErrorWithDetails(types.ErrCodeDispatchPersistent,
			fmt.Sprintf("controller rejected command with %d", resp.StatusCode), nil,
			map[string]any{"command_id": cmd.CommandID, "body": string(raw)})
	}

	var ack types.CommandAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, types.NewAppError(types.ErrCodeDispatchTransient,
			"decoding controller acknowledgement", err)
	}
	if !ack.Accepted {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeDispatchPersistent,
			"controller refused command", nil,
			map[string]any{"command_id": cmd.CommandID, "detail": ack.Detail})
	}

	return &ack, nil
}
