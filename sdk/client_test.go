package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testCredential() Credential {
	return Credential{ClientID: "client-1", Secret: "s3cret"}
}

func TestSessionClient_AttachSendsWireContract(t *testing.T) {
	var gotPath, gotClientID string
	var gotBody attachRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotClientID = r.Header.Get("X-Client-Id")
		if user, pass, ok := r.BasicAuth(); !ok || user != "client-1" || pass != "s3cret" {
			t.Errorf("basic auth = %q/%q ok=%v", user, pass, ok)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(AttachResult{
			DeviceID:           "server-id",
			AttachedDevices:    2,
			Success:            true,
			DefaultDeviceLimit: intPtr(3),
		})
	}))
	defer srv.Close()

	client := NewSessionClient(srv.URL, testCredential(), nil, nil)
	info := DeviceInfo{OS: &OSInfo{Name: "linux", Version: "6.1"}}
	res, err := client.Attach(context.Background(), "u1", "local-id", info, map[string]string{"install_id": "i1"})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if gotPath != "/access" {
		t.Fatalf("path = %q, want /access", gotPath)
	}
	if gotClientID != "client-1" {
		t.Fatalf("X-Client-Id = %q", gotClientID)
	}
	if gotBody.User != "u1" || gotBody.DeviceID != "local-id" {
		t.Fatalf("request body = %+v", gotBody)
	}
	if gotBody.Signals["install_id"] != "i1" {
		t.Fatalf("signals = %v", gotBody.Signals)
	}
	if res.DeviceID != "server-id" || res.AttachedDevices != 2 || !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.DefaultDeviceLimit == nil || *res.DefaultDeviceLimit != 3 {
		t.Fatalf("default limit = %v", res.DefaultDeviceLimit)
	}
}

func TestSessionClient_DetachUsesDetachEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/access/detach" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body detachRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if body.Device != "d2" || body.User != "u1" {
			t.Errorf("body = %+v", body)
		}
		json.NewEncoder(w).Encode(AttachResult{DeviceID: "d2", AttachedDevices: 1, Success: true})
	}))
	defer srv.Close()

	client := NewSessionClient(srv.URL, testCredential(), nil, nil)
	res, err := client.Detach(context.Background(), "u1", "d2")
	if err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if res.AttachedDevices != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestSessionClient_ListAttachedParsesTimestamps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/access/user/u1/attached_devices" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`[
			{"id":"d1","user":"u1","device_info":{"os":{"name":"ios","version":"17"}},"created_at":"2026-08-01T10:00:00.000Z","updated_at":"2026-08-02T11:30:00.500Z"},
			{"id":"d2","user":"u1","device_info":{},"created_at":"2026-08-03T09:00:00.000Z","updated_at":"2026-08-03T09:00:00.000Z"}
		]`))
	}))
	defer srv.Close()

	client := NewSessionClient(srv.URL, testCredential(), nil, nil)
	records, err := client.ListAttached(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListAttached: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	if records[0].ID != "d1" || records[1].ID != "d2" {
		t.Fatalf("order not preserved: %v, %v", records[0].ID, records[1].ID)
	}
	want := time.Date(2026, 8, 2, 11, 30, 0, 500_000_000, time.UTC)
	if !records[0].UpdatedAt.Equal(want) {
		t.Fatalf("updated_at = %v, want %v", records[0].UpdatedAt, want)
	}
	if records[0].Info.OS == nil || records[0].Info.OS.Name != "ios" {
		t.Fatalf("device info = %+v", records[0].Info)
	}
}

func TestSessionClient_FailsFastWithoutCredentialOrUser(t *testing.T) {
	// Deliberately unreachable base URL: the calls must fail before any
	// network I/O happens.
	client := NewSessionClient("http://127.0.0.1:1", Credential{}, nil, nil)

	var cfgErr *ConfigurationError
	if _, err := client.Attach(context.Background(), "u1", "", DeviceInfo{}, nil); !errors.As(err, &cfgErr) {
		t.Fatalf("missing credential: got %v", err)
	}

	client = NewSessionClient("http://127.0.0.1:1", testCredential(), nil, nil)
	if _, err := client.Attach(context.Background(), "", "", DeviceInfo{}, nil); !errors.As(err, &cfgErr) {
		t.Fatalf("missing userID: got %v", err)
	}
	if _, err := client.ListAttached(context.Background(), ""); !errors.As(err, &cfgErr) {
		t.Fatalf("missing userID on list: got %v", err)
	}
	if _, err := client.Detach(context.Background(), "u1", ""); !errors.As(err, &cfgErr) {
		t.Fatalf("missing deviceID on detach: got %v", err)
	}
}

func TestSessionClient_NetworkFailureIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	client := NewSessionClient(srv.URL, testCredential(), nil, nil)
	_, err := client.Attach(context.Background(), "u1", "d1", DeviceInfo{}, nil)

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("got %T (%v), want TransportError", err, err)
	}
	if transportErr.Unwrap() == nil {
		t.Fatalf("transport error must carry the underlying cause")
	}
}

func TestSessionClient_MalformedBodyIsDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"device_id": `))
	}))
	defer srv.Close()

	client := NewSessionClient(srv.URL, testCredential(), nil, nil)
	_, err := client.Attach(context.Background(), "u1", "d1", DeviceInfo{}, nil)

	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("got %T (%v), want DecodeError", err, err)
	}
}

func TestSessionClient_UnauthorizedIsConfigurationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewSessionClient(srv.URL, testCredential(), nil, nil)
	_, err := client.Attach(context.Background(), "u1", "d1", DeviceInfo{}, nil)

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %T (%v), want ConfigurationError", err, err)
	}
}
