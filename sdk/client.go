package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const defaultRequestTimeout = 15 * time.Second

// Credential authenticates the SDK against the DeviceGate backend. The
// secret may be empty for client-side-only integrations.
type Credential struct {
	ClientID string
	Secret   string
}

// SessionClient issues the attach/detach/list HTTP calls. It does not retry:
// retry policy belongs to the caller.
type SessionClient struct {
	baseURL    string
	credential Credential
	httpClient *http.Client
	logger     *log.Logger
}

// NewSessionClient creates a client for the given backend. httpClient and
// logger may be nil, in which case sensible defaults apply.
func NewSessionClient(baseURL string, credential Credential, httpClient *http.Client, logger *log.Logger) *SessionClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[DeviceGate] ", log.LstdFlags)
	}
	return &SessionClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credential,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Attach registers the device as active for the user. deviceID is the local
// identity guess; the server may assign a different id, which the caller
// must persist.
func (c *SessionClient) Attach(ctx context.Context, userID, deviceID string, info DeviceInfo, signals map[string]string) (*AttachResult, error) {
	if err := c.checkPreconditions(userID); err != nil {
		return nil, err
	}
	body := attachRequest{
		User:       userID,
		DeviceID:   deviceID,
		DeviceInfo: info,
		Signals:    signals,
	}
	var result AttachResult
	if err := c.doJSON(ctx, http.MethodPost, "/access", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Detach removes a device from the user's active set
func (c *SessionClient) Detach(ctx context.Context, userID, deviceID string) (*AttachResult, error) {
	if err := c.checkPreconditions(userID); err != nil {
		return nil, err
	}
	if deviceID == "" {
		return nil, &ConfigurationError{Reason: "deviceID must not be empty"}
	}
	var result AttachResult
	if err := c.doJSON(ctx, http.MethodPost, "/access/detach", detachRequest{Device: deviceID, User: userID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListAttached returns the devices currently attached to the user in server
// order
func (c *SessionClient) ListAttached(ctx context.Context, userID string) ([]DeviceRecord, error) {
	if err := c.checkPreconditions(userID); err != nil {
		return nil, err
	}
	var records []DeviceRecord
	if err := c.doJSON(ctx, http.MethodGet, "/access/user/"+userID+"/attached_devices", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// checkPreconditions fails fast, before any network I/O, on missing
// credential or user id
func (c *SessionClient) checkPreconditions(userID string) error {
	if c.credential.ClientID == "" {
		return &ConfigurationError{Reason: "client credential is not set"}
	}
	if userID == "" {
		return &ConfigurationError{Reason: "userID must not be empty"}
	}
	return nil
}

func (c *SessionClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &ConfigurationError{Reason: "encoding request: " + err.Error()}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &ConfigurationError{Reason: "building request: " + err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &ConfigurationError{Reason: fmt.Sprintf("credential rejected by server (status %d)", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &TransportError{Op: op, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Printf("malformed response for %s: %v", op, err)
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

// authorize sets the credential headers shared by every backend call,
// including the realtime listen stream
func (c *SessionClient) authorize(req *http.Request) {
	req.Header.Set("X-Client-Id", c.credential.ClientID)
	req.SetBasicAuth(c.credential.ClientID, c.credential.Secret)
}
