package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// fakeUI records Show/Dismiss calls from the controller
type fakeUI struct {
	mu        sync.Mutex
	shown     []DeviceListSnapshot
	confirm   func(deviceIDs []string)
	dismissed int
}

func (u *fakeUI) Show(snapshot DeviceListSnapshot, onConfirmDetach func(deviceIDs []string)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.shown = append(u.shown, snapshot)
	u.confirm = onConfirmDetach
}

func (u *fakeUI) Dismiss() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.dismissed++
}

func (u *fakeUI) shownCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.shown)
}

func (u *fakeUI) dismissCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dismissed
}

type fakePlatform struct{}

func (fakePlatform) OSInfo() OSInfo { return OSInfo{Name: "linux", Version: "6.1"} }
func (fakePlatform) DeviceDetails() DeviceDetails {
	return DeviceDetails{Vendor: "acme", Type: DeviceTypeComputer, Model: "box"}
}

type fakeSignals struct{}

func (fakeSignals) StableInstallIdentifier() string { return "install-1" }

// testBackend is a scripted DeviceGate server
type testBackend struct {
	mu            sync.Mutex
	devices       []DeviceRecord
	attachResp    AttachResult
	attachGate    chan struct{} // when set, attach blocks until closed
	attachCalls   atomic.Int32
	listGate      chan struct{} // when set, list blocks until closed
	listCalls     atomic.Int32
	failList      bool
	rejectAll     bool
	streamPayload string // when set, the listen endpoint emits it once
}

func (b *testBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /access", func(w http.ResponseWriter, r *http.Request) {
		b.attachCalls.Add(1)
		b.mu.Lock()
		gate := b.attachGate
		resp := b.attachResp
		if b.rejectAll {
			resp.Success = false
		}
		b.mu.Unlock()
		if gate != nil {
			<-gate
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("POST /access/detach", func(w http.ResponseWriter, r *http.Request) {
		var req detachRequest
		json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		kept := b.devices[:0]
		for _, d := range b.devices {
			if d.ID != req.Device {
				kept = append(kept, d)
			}
		}
		b.devices = kept
		resp := AttachResult{DeviceID: req.Device, AttachedDevices: len(b.devices), Success: !b.rejectAll}
		b.mu.Unlock()
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("GET /access/user/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/attached_devices") {
			http.NotFound(w, r)
			return
		}
		b.listCalls.Add(1)
		b.mu.Lock()
		gate := b.listGate
		fail := b.failList
		devices := append([]DeviceRecord(nil), b.devices...)
		b.mu.Unlock()
		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		if fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(devices)
	})
	mux.HandleFunc("GET /access/device/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/listen") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		b.mu.Lock()
		payload := b.streamPayload
		b.mu.Unlock()
		if payload != "" {
			w.Write([]byte("data: " + payload + "\n\n"))
		}
		flusher.Flush()
		<-r.Context().Done()
	})
	return mux
}

func newTestController(t *testing.T, backend *testBackend, ui *fakeUI, appearance AppearanceConfig) (*SessionController, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	ctrl, err := NewSessionController(Config{
		BaseURL:    srv.URL,
		ClientID:   "client-1",
		Secret:     "s3cret",
		Limit:      LimitConfig{OverallLimit: intPtr(2)},
		Appearance: appearance,
		Logger:     testLogger(),
		UI:         ui,
		Platform:   fakePlatform{},
		Signals:    fakeSignals{},
		Backoff:    fastBackoff(),
	})
	if err != nil {
		t.Fatalf("NewSessionController: %v", err)
	}
	t.Cleanup(ctrl.Close)
	ctrl.SetUserID("u1")
	return ctrl, srv
}

func now() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }

func attachedDevice(id string) DeviceRecord {
	return DeviceRecord{ID: id, User: "u1", CreatedAt: now(), UpdatedAt: now()}
}

func TestController_AttachOverLimitShowsDialog(t *testing.T) {
	backend := &testBackend{
		devices:    []DeviceRecord{attachedDevice("server-d1"), attachedDevice("d2"), attachedDevice("d3")},
		attachResp: AttachResult{DeviceID: "server-d1", AttachedDevices: 3, Success: true, BlockOverUsage: boolPtr(true)},
	}
	ui := &fakeUI{}
	ctrl, _ := newTestController(t, backend, ui, AppearanceConfig{})

	var exceededCount atomic.Int32
	ctrl.OnLimitExceeded(func(count int) { exceededCount.Store(int32(count)) })

	res, err := ctrl.Attach(context.Background())
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if res.DeviceID != "server-d1" {
		t.Fatalf("device id = %q", res.DeviceID)
	}
	// The server-assigned id overwrites the local guess.
	if ctrl.DeviceID() != "server-d1" {
		t.Fatalf("identity = %q, want server-d1", ctrl.DeviceID())
	}
	if exceededCount.Load() != 3 {
		t.Fatalf("limit exceeded count = %d, want 3", exceededCount.Load())
	}
	if ui.shownCount() != 1 {
		t.Fatalf("dialog shown %d times, want 1", ui.shownCount())
	}
	// Showing the dialog triggers a background refresh.
	waitFor(t, 2*time.Second, func() bool { return len(ctrl.Snapshot().Devices) == 3 })
}

func TestController_LocalOverrideSuppressesDialog(t *testing.T) {
	backend := &testBackend{
		attachResp: AttachResult{DeviceID: "d1", AttachedDevices: 3, Success: true, BlockOverUsage: boolPtr(true)},
	}
	ui := &fakeUI{}
	ctrl, _ := newTestController(t, backend, ui, AppearanceConfig{ShowBlockingDialog: boolPtr(false)})

	exceeded := make(chan int, 1)
	ctrl.OnLimitExceeded(func(count int) { exceeded <- count })

	if _, err := ctrl.Attach(context.Background()); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	select {
	case <-exceeded:
	default:
		t.Fatalf("limit exceeded observer must still fire")
	}
	if ui.shownCount() != 0 {
		t.Fatalf("dialog must not show when the local override says no")
	}
}

func TestController_AttachRejectedSkipsEvaluation(t *testing.T) {
	backend := &testBackend{
		rejectAll:  true,
		attachResp: AttachResult{DeviceID: "d1", AttachedDevices: 99, BlockOverUsage: boolPtr(true)},
	}
	ui := &fakeUI{}
	ctrl, _ := newTestController(t, backend, ui, AppearanceConfig{})

	_, err := ctrl.Attach(context.Background())
	if !errors.Is(err, ErrServerRejected) {
		t.Fatalf("got %v, want ErrServerRejected", err)
	}
	if ui.shownCount() != 0 {
		t.Fatalf("no dialog on rejected attach")
	}
}

func TestController_ConcurrentAttachesCollapse(t *testing.T) {
	gate := make(chan struct{})
	backend := &testBackend{
		attachResp: AttachResult{DeviceID: "d1", AttachedDevices: 1, Success: true},
		attachGate: gate,
	}
	ctrl, _ := newTestController(t, backend, &fakeUI{}, AppearanceConfig{})

	const callers = 5
	results := make(chan *AttachResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ctrl.Attach(context.Background())
			if err != nil {
				t.Errorf("Attach: %v", err)
				return
			}
			results <- res
		}()
	}

	// Give every caller time to either start the request or join the
	// outstanding one, then release the backend.
	waitFor(t, 2*time.Second, func() bool { return backend.attachCalls.Load() >= 1 })
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := backend.attachCalls.Load(); got != 1 {
		t.Fatalf("backend saw %d attach calls, want 1", got)
	}
	close(results)
	for res := range results {
		if res.DeviceID != "d1" {
			t.Fatalf("fanned-out result = %+v", res)
		}
	}
}

func TestController_DetachCurrentDevice(t *testing.T) {
	backend := &testBackend{
		devices:    []DeviceRecord{attachedDevice("server-d1"), attachedDevice("d2"), attachedDevice("d3")},
		attachResp: AttachResult{DeviceID: "server-d1", AttachedDevices: 3, Success: true, BlockOverUsage: boolPtr(true)},
	}
	ui := &fakeUI{}
	ctrl, _ := newTestController(t, backend, ui, AppearanceConfig{})

	var currentFired, otherFired atomic.Int32
	ctrl.OnLogoutCurrentDevice(func(device *DeviceRecord) { currentFired.Add(1) })
	ctrl.OnLogoutOtherDevice(func(device *DeviceRecord) { otherFired.Add(1) })

	if _, err := ctrl.Attach(context.Background()); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(ctrl.Snapshot().Devices) == 3 })

	if err := ctrl.Detach(context.Background(), "server-d1"); err != nil {
		t.Fatalf("Detach: %v", err)
	}

	if currentFired.Load() != 1 {
		t.Fatalf("current-device observer fired %d times, want 1", currentFired.Load())
	}
	if otherFired.Load() != 0 {
		t.Fatalf("other-device observer must not fire")
	}
	// Count is still over the limit (2 devices, limit 2 is fine, but the
	// dialog goes away regardless because this device lost access).
	if ui.dismissCount() != 1 {
		t.Fatalf("dialog dismissed %d times, want 1", ui.dismissCount())
	}
	for _, d := range ctrl.Snapshot().Devices {
		if d.ID == "server-d1" {
			t.Fatalf("record not removed from state")
		}
	}
}

func TestController_DetachOtherDeviceDismissesAtLimit(t *testing.T) {
	backend := &testBackend{
		devices:    []DeviceRecord{attachedDevice("server-d1"), attachedDevice("d2"), attachedDevice("d3")},
		attachResp: AttachResult{DeviceID: "server-d1", AttachedDevices: 3, Success: true, BlockOverUsage: boolPtr(true)},
	}
	ui := &fakeUI{}
	ctrl, _ := newTestController(t, backend, ui, AppearanceConfig{})

	var otherDevice *DeviceRecord
	fired := make(chan struct{}, 1)
	ctrl.OnLogoutOtherDevice(func(device *DeviceRecord) {
		otherDevice = device
		fired <- struct{}{}
	})

	if _, err := ctrl.Attach(context.Background()); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(ctrl.Snapshot().Devices) == 3 })

	if err := ctrl.Detach(context.Background(), "d3"); err != nil {
		t.Fatalf("Detach: %v", err)
	}

	<-fired
	if otherDevice == nil || otherDevice.ID != "d3" {
		t.Fatalf("observer record = %+v, want d3", otherDevice)
	}
	// Remaining count 2 with effective limit 2: back at the limit, dialog
	// goes away.
	if ui.dismissCount() != 1 {
		t.Fatalf("dialog dismissed %d times, want 1", ui.dismissCount())
	}
}

func TestController_RealtimeLogoutWithUnknownRecord(t *testing.T) {
	backend := &testBackend{
		attachResp: AttachResult{DeviceID: "server-d1", AttachedDevices: 3, Success: true, BlockOverUsage: boolPtr(true)},
	}
	ui := &fakeUI{}
	ctrl, _ := newTestController(t, backend, ui, AppearanceConfig{})

	var gotRecord *DeviceRecord
	fired := make(chan struct{}, 1)
	ctrl.OnLogoutCurrentDevice(func(device *DeviceRecord) {
		gotRecord = device
		fired <- struct{}{}
	})

	if _, err := ctrl.Attach(context.Background()); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if ui.shownCount() != 1 {
		t.Fatalf("dialog not shown")
	}

	// The backend list is empty, so this device has no record locally when
	// the invalidation lands. Dispatch proceeds with a nil record.
	ctrl.handleRealtimeEvent("logout")

	<-fired
	if gotRecord != nil {
		t.Fatalf("record = %+v, want nil", gotRecord)
	}
	if ui.dismissCount() != 1 {
		t.Fatalf("dialog dismissed %d times, want 1", ui.dismissCount())
	}
}

func TestController_RefreshFailureKeepsPreviousList(t *testing.T) {
	backend := &testBackend{
		devices:    []DeviceRecord{attachedDevice("d1"), attachedDevice("d2")},
		attachResp: AttachResult{DeviceID: "d1", AttachedDevices: 2, Success: true},
	}
	ctrl, _ := newTestController(t, backend, &fakeUI{}, AppearanceConfig{})

	if err := ctrl.RefreshDevices(context.Background()); err != nil {
		t.Fatalf("RefreshDevices: %v", err)
	}
	if got := len(ctrl.Snapshot().Devices); got != 2 {
		t.Fatalf("devices = %d, want 2", got)
	}

	backend.mu.Lock()
	backend.failList = true
	backend.mu.Unlock()

	if err := ctrl.RefreshDevices(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	snapshot := ctrl.Snapshot()
	if got := len(snapshot.Devices); got != 2 {
		t.Fatalf("previous list lost on failure: %d devices", got)
	}
	if snapshot.Loading {
		t.Fatalf("loading must be cleared on failure")
	}
}

func TestController_DialogConfirmDetachesChosenDevices(t *testing.T) {
	backend := &testBackend{
		devices:    []DeviceRecord{attachedDevice("server-d1"), attachedDevice("d2"), attachedDevice("d3")},
		attachResp: AttachResult{DeviceID: "server-d1", AttachedDevices: 3, Success: true, BlockOverUsage: boolPtr(true)},
	}
	ui := &fakeUI{}
	ctrl, _ := newTestController(t, backend, ui, AppearanceConfig{})

	if _, err := ctrl.Attach(context.Background()); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(ctrl.Snapshot().Devices) == 3 })

	// The user picks d3 in the dialog.
	ui.mu.Lock()
	confirm := ui.confirm
	ui.mu.Unlock()
	confirm([]string{"d3"})

	waitFor(t, 2*time.Second, func() bool { return ui.dismissCount() == 1 })
	for _, d := range ctrl.Snapshot().Devices {
		if d.ID == "d3" {
			t.Fatalf("d3 still in local state after confirm")
		}
	}
}

func TestController_CloseFromLogoutObserver(t *testing.T) {
	backend := &testBackend{
		attachResp:    AttachResult{DeviceID: "server-d1", AttachedDevices: 1, Success: true},
		streamPayload: "logout",
	}
	ctrl, _ := newTestController(t, backend, &fakeUI{}, AppearanceConfig{})

	// Logging the user out, and with it tearing the whole controller down,
	// is the documented reaction to this observer. It must not wedge.
	closed := make(chan struct{})
	ctrl.OnLogoutCurrentDevice(func(device *DeviceRecord) {
		ctrl.Close()
		close(closed)
	})

	if _, err := ctrl.Attach(context.Background()); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := ctrl.StartRealtimeUpdates(); err != nil {
		t.Fatalf("StartRealtimeUpdates: %v", err)
	}

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close called from the logout observer never returned")
	}
	if got := ctrl.RealtimeState(); got != ChannelDisconnected {
		t.Fatalf("realtime state = %s, want disconnected", got)
	}
}

func TestController_CloseCancelsDialogRefresh(t *testing.T) {
	gate := make(chan struct{})
	backend := &testBackend{
		devices:    []DeviceRecord{attachedDevice("server-d1"), attachedDevice("d2"), attachedDevice("d3")},
		attachResp: AttachResult{DeviceID: "server-d1", AttachedDevices: 3, Success: true, BlockOverUsage: boolPtr(true)},
		listGate:   gate,
	}
	ui := &fakeUI{}
	ctrl, _ := newTestController(t, backend, ui, AppearanceConfig{})

	if _, err := ctrl.Attach(context.Background()); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	// The dialog's background refresh is now parked on the gate.
	waitFor(t, 2*time.Second, func() bool { return backend.listCalls.Load() >= 1 })

	ctrl.Close()
	close(gate)

	// The refresh was cut off by Close, so it must not land late and
	// repopulate state.
	time.Sleep(50 * time.Millisecond)
	snapshot := ctrl.Snapshot()
	if got := len(snapshot.Devices); got != 0 {
		t.Fatalf("refresh landed after Close: %d devices", got)
	}
	if snapshot.Loading {
		t.Fatalf("loading still set after cancelled refresh")
	}
}

func TestController_NilUISkipsDialogLifecycle(t *testing.T) {
	backend := &testBackend{
		devices:    []DeviceRecord{attachedDevice("server-d1"), attachedDevice("d2"), attachedDevice("d3")},
		attachResp: AttachResult{DeviceID: "server-d1", AttachedDevices: 3, Success: true, BlockOverUsage: boolPtr(true)},
	}
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	ctrl, err := NewSessionController(Config{
		BaseURL:  srv.URL,
		ClientID: "client-1",
		Secret:   "s3cret",
		Limit:    LimitConfig{OverallLimit: intPtr(2)},
		Logger:   testLogger(),
		Platform: fakePlatform{},
		Signals:  fakeSignals{},
		Backoff:  fastBackoff(),
	})
	if err != nil {
		t.Fatalf("NewSessionController: %v", err)
	}
	t.Cleanup(ctrl.Close)
	ctrl.SetUserID("u1")

	exceeded := make(chan int, 1)
	ctrl.OnLimitExceeded(func(count int) { exceeded <- count })

	// Over the limit with blocking on, but no UI wired: the exceeded state
	// is only surfaced through the observer.
	if _, err := ctrl.Attach(context.Background()); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	select {
	case count := <-exceeded:
		if count != 3 {
			t.Fatalf("exceeded count = %d, want 3", count)
		}
	default:
		t.Fatalf("limit exceeded observer must fire without a UI")
	}

	// A logout event must likewise not touch the absent dialog.
	ctrl.handleRealtimeEvent("logout")
}
