package sdk

import (
	"context"
	"log"
	"net/http"
	"sync"
)

// DeviceSelectionUI is the presentation collaborator. Show renders the
// current device list and reports the user's choice of devices to detach;
// Dismiss removes the blocking dialog. Rendering itself is out of scope for
// the SDK.
type DeviceSelectionUI interface {
	Show(snapshot DeviceListSnapshot, onConfirmDetach func(deviceIDs []string))
	Dismiss()
}

// DeviceDescriber supplies the OS and hardware description sent with attach
// calls
type DeviceDescriber interface {
	OSInfo() OSInfo
	DeviceDetails() DeviceDetails
}

// InstallSignals supplies the stable install identifier. It is sent as a
// signal with attach calls, never used as the device id.
type InstallSignals interface {
	StableInstallIdentifier() string
}

// Config configures a SessionController. An explicit instance is owned and
// passed by the host application; there is no ambient global state, so tests
// can run isolated sessions side by side.
type Config struct {
	BaseURL    string
	ClientID   string
	Secret     string
	Limit      LimitConfig
	Appearance AppearanceConfig

	// Optional collaborators. Store defaults to an in-memory implementation,
	// HTTPClient and Logger to package defaults. UI, Platform and Signals
	// may be nil when the host does not use the blocking dialog. With a nil
	// UI the blocking-dialog lifecycle is skipped entirely; an exceeded
	// limit is then only surfaced through OnLimitExceeded.
	Store      Store
	HTTPClient *http.Client
	Logger     *log.Logger
	UI         DeviceSelectionUI
	Platform   DeviceDescriber
	Signals    InstallSignals
	Backoff    BackoffConfig
}

type attachCall struct {
	done chan struct{}
	res  *AttachResult
	err  error
}

// SessionController orchestrates the session-limit protocol: it owns the
// client, the device identity, the list state and the realtime channel, and
// exposes Attach/Detach/RefreshDevices to the host application.
//
// All DeviceListState mutation goes through the controller's lock; observer
// callbacks are invoked outside of it.
type SessionController struct {
	cfg      Config
	client   *SessionClient
	identity *DeviceIdentity
	channel  *RealtimeChannel
	logger   *log.Logger

	// lifeCtx bounds background work (dialog refreshes, confirm detaches)
	// to the controller's lifetime; Close cancels it.
	lifeCtx  context.Context
	lifeStop context.CancelFunc

	mu             sync.Mutex
	userID         string
	state          *DeviceListState
	dialogShown    bool
	realtimeWanted bool
	inflight       *attachCall

	nextObserverID int
	onLimit        map[int]func(count int)
	onLogoutSelf   map[int]func(device *DeviceRecord)
	onLogoutOther  map[int]func(device *DeviceRecord)
	onDown         map[int]func(err error)
}

// NewSessionController builds a controller from the given configuration.
// The realtime channel is not connected until StartRealtimeUpdates.
func NewSessionController(cfg Config) (*SessionController, error) {
	if cfg.BaseURL == "" {
		return nil, &ConfigurationError{Reason: "BaseURL must not be empty"}
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[DeviceGate] ", log.LstdFlags)
	}

	identity, err := LoadDeviceIdentity(cfg.Store)
	if err != nil {
		return nil, err
	}

	credential := Credential{ClientID: cfg.ClientID, Secret: cfg.Secret}
	lifeCtx, lifeStop := context.WithCancel(context.Background())
	c := &SessionController{
		cfg:           cfg,
		client:        NewSessionClient(cfg.BaseURL, credential, cfg.HTTPClient, logger),
		identity:      identity,
		logger:        logger,
		lifeCtx:       lifeCtx,
		lifeStop:      lifeStop,
		state:         NewDeviceListState(),
		onLimit:       make(map[int]func(int)),
		onLogoutSelf:  make(map[int]func(*DeviceRecord)),
		onLogoutOther: make(map[int]func(*DeviceRecord)),
		onDown:        make(map[int]func(error)),
	}
	c.state.SetCurrentDeviceID(identity.ID())
	c.channel = newRealtimeChannel(cfg.BaseURL, credential, nil, logger, cfg.Backoff, c.handleRealtimeEvent, c.handleRealtimeDown)
	return c, nil
}

// SetUserID sets the user the session belongs to. Must be called before
// Attach, Detach or RefreshDevices.
func (c *SessionController) SetUserID(id string) {
	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
}

// DeviceID returns the current device identity
func (c *SessionController) DeviceID() string {
	return c.identity.ID()
}

// Snapshot returns a copy of the device list state for rendering
func (c *SessionController) Snapshot() DeviceListSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

// Close cancels the controller's background work and stops the realtime
// channel. The controller must not be used after Close.
func (c *SessionController) Close() {
	c.lifeStop()
	c.StopRealtimeUpdates()
}

// ==================== Observers ====================

// OnLimitExceeded registers a callback fired when an attach reports more
// devices than the effective limit. Returns an unsubscribe func.
func (c *SessionController) OnLimitExceeded(fn func(count int)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObserverID
	c.nextObserverID++
	c.onLimit[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.onLimit, id)
		c.mu.Unlock()
	}
}

// OnLogoutCurrentDevice registers a callback fired when this device is
// detached, either by the user or by a realtime invalidation. The record may
// be nil when the device was already pruned locally. Hosts are strongly
// advised to log the user out when this fires.
func (c *SessionController) OnLogoutCurrentDevice(fn func(device *DeviceRecord)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObserverID
	c.nextObserverID++
	c.onLogoutSelf[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.onLogoutSelf, id)
		c.mu.Unlock()
	}
}

// OnLogoutOtherDevice registers a callback fired when the user detaches a
// remote device from this one
func (c *SessionController) OnLogoutOtherDevice(fn func(device *DeviceRecord)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObserverID
	c.nextObserverID++
	c.onLogoutOther[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.onLogoutOther, id)
		c.mu.Unlock()
	}
}

// OnRealtimeDown registers a callback fired when the realtime channel gives
// up reconnecting
func (c *SessionController) OnRealtimeDown(fn func(err error)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObserverID
	c.nextObserverID++
	c.onDown[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.onDown, id)
		c.mu.Unlock()
	}
}

func (c *SessionController) fireLimitExceeded(count int) {
	c.mu.Lock()
	fns := make([]func(int), 0, len(c.onLimit))
	for _, fn := range c.onLimit {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(count)
	}
}

func (c *SessionController) fireLogout(current bool, device *DeviceRecord) {
	c.mu.Lock()
	src := c.onLogoutOther
	if current {
		src = c.onLogoutSelf
	}
	fns := make([]func(*DeviceRecord), 0, len(src))
	for _, fn := range src {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(device)
	}
}

// ==================== Attach ====================

// Attach registers this device as active for the user, evaluates the limit
// decision and, when blocking is required, asks the UI collaborator to show
// the device list. Concurrent calls collapse into the single outstanding
// attach; the first caller's result fans out to all of them.
func (c *SessionController) Attach(ctx context.Context) (*AttachResult, error) {
	c.mu.Lock()
	if call := c.inflight; call != nil {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, &TransportError{Op: "attach", Err: ctx.Err()}
		case <-call.done:
			return call.res, call.err
		}
	}
	call := &attachCall{done: make(chan struct{})}
	c.inflight = call
	userID := c.userID
	c.mu.Unlock()

	call.res, call.err = c.doAttach(ctx, userID)

	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()
	close(call.done)

	return call.res, call.err
}

func (c *SessionController) doAttach(ctx context.Context, userID string) (*AttachResult, error) {
	if userID == "" {
		return nil, &ConfigurationError{Reason: "userID must be set before Attach"}
	}

	info := DeviceInfo{}
	if c.cfg.Platform != nil {
		os := c.cfg.Platform.OSInfo()
		details := c.cfg.Platform.DeviceDetails()
		info.OS = &os
		info.Device = &details
	}
	var signals map[string]string
	if c.cfg.Signals != nil {
		signals = map[string]string{"install_id": c.cfg.Signals.StableInstallIdentifier()}
	}

	res, err := c.client.Attach(ctx, userID, c.identity.ID(), info, signals)
	if err != nil {
		// Fail-open: no limit evaluation, no dialog. A transient network
		// failure must not lock the user out.
		c.logger.Printf("attach failed: %v", err)
		return nil, err
	}

	previousID := c.identity.ID()
	if err := c.identity.Overwrite(res.DeviceID); err != nil {
		c.logger.Printf("persisting device id: %v", err)
	}

	c.mu.Lock()
	c.state.SetCurrentDeviceID(c.identity.ID())
	restartRealtime := c.realtimeWanted && c.identity.ID() != previousID
	c.mu.Unlock()

	if restartRealtime {
		// The stream is keyed by device id; a new identity needs a new
		// connection.
		if err := c.channel.Start(c.identity.ID()); err != nil {
			c.logger.Printf("restarting realtime stream: %v", err)
		}
	}

	if !res.Success {
		return res, ErrServerRejected
	}

	decision := Evaluate(*res, c.cfg.Limit)

	c.mu.Lock()
	c.state.SetEffectiveLimit(decision.Limit)
	c.mu.Unlock()

	if !decision.Exceeded {
		return res, nil
	}

	c.fireLimitExceeded(res.AttachedDevices)

	if ShouldBlock(decision, *res, c.cfg.Appearance) && c.cfg.UI != nil {
		c.mu.Lock()
		c.dialogShown = true
		c.state.SetDetachInFlight(false)
		snapshot := c.state.Snapshot()
		c.mu.Unlock()

		c.cfg.UI.Show(snapshot, c.confirmDetach)

		// Showing the list triggers a refresh so the dialog renders fresh
		// server data rather than whatever the last call left behind. The
		// refresh is bounded by the controller's lifetime: after Close it
		// cannot land and mutate state.
		go func() {
			if err := c.RefreshDevices(c.lifeCtx); err != nil {
				c.logger.Printf("refreshing devices for dialog: %v", err)
			}
		}()
	}
	return res, nil
}

// confirmDetach is handed to the UI collaborator as the dialog's confirm
// action
func (c *SessionController) confirmDetach(deviceIDs []string) {
	go func() {
		for _, id := range deviceIDs {
			if err := c.Detach(c.lifeCtx, id); err != nil {
				c.logger.Printf("detaching device %s: %v", id, err)
			}
		}
	}()
}

// ==================== Detach ====================

// Detach removes a device from the user's active set. On success the record
// is pruned from the local list, the matching logout observer fires, and the
// blocking dialog is dismissed when this was the current device or the count
// dropped back to the limit.
func (c *SessionController) Detach(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	userID := c.userID
	record := c.state.Find(deviceID)
	isCurrent := c.state.IsCurrentDevice(deviceID)
	c.state.SetDetachInFlight(true)
	c.mu.Unlock()

	if userID == "" {
		c.mu.Lock()
		c.state.SetDetachInFlight(false)
		c.mu.Unlock()
		return &ConfigurationError{Reason: "userID must be set before Detach"}
	}

	res, err := c.client.Detach(ctx, userID, deviceID)

	c.mu.Lock()
	c.state.SetDetachInFlight(false)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if !res.Success {
		c.mu.Unlock()
		return ErrServerRejected
	}

	c.state.RemoveByID(deviceID)
	dismiss := false
	if c.dialogShown && (isCurrent || c.state.UnderLimit()) {
		c.dialogShown = false
		dismiss = true
	}
	c.mu.Unlock()

	c.fireLogout(isCurrent, record)
	if dismiss && c.cfg.UI != nil {
		c.cfg.UI.Dismiss()
	}
	return nil
}

// ==================== Refresh ====================

// RefreshDevices replaces the device list wholesale from the server. On
// failure the previous list stays untouched and loading is cleared so the
// UI does not spin forever. A detach that completes while the refresh is in
// flight wins over the stale response (see DeviceListState.Replace).
func (c *SessionController) RefreshDevices(ctx context.Context) error {
	c.mu.Lock()
	userID := c.userID
	if userID == "" {
		c.mu.Unlock()
		return &ConfigurationError{Reason: "userID must be set before RefreshDevices"}
	}
	seq := c.state.NextSeq()
	c.state.SetLoading(true)
	c.mu.Unlock()

	records, err := c.client.ListAttached(ctx, userID)

	c.mu.Lock()
	c.state.SetLoading(false)
	if err != nil {
		c.mu.Unlock()
		c.logger.Printf("refreshing devices failed, keeping previous list: %v", err)
		return err
	}
	c.state.Replace(seq, records)
	c.mu.Unlock()
	return nil
}

// ==================== Realtime ====================

// StartRealtimeUpdates opens the server-push stream for this device. It is
// an explicit call rather than a side effect of observer registration, so
// hosts control exactly when a socket is held open.
func (c *SessionController) StartRealtimeUpdates() error {
	c.mu.Lock()
	c.realtimeWanted = true
	c.mu.Unlock()
	return c.channel.Start(c.identity.ID())
}

// StopRealtimeUpdates tears down the server-push stream
func (c *SessionController) StopRealtimeUpdates() {
	c.mu.Lock()
	c.realtimeWanted = false
	c.mu.Unlock()
	c.channel.Stop()
}

// RealtimeState reports the channel lifecycle state
func (c *SessionController) RealtimeState() ChannelState {
	return c.channel.State()
}

// handleRealtimeEvent runs on the channel's dispatch goroutine for every
// recognized control event. A "logout" for this device prunes it locally,
// fires the current-device observer (with a nil record when already pruned)
// and dismisses the blocking dialog if shown. Observers may call
// StopRealtimeUpdates or Close from inside their callback.
func (c *SessionController) handleRealtimeEvent(payload string) {
	if payload != logoutEvent {
		return
	}

	c.mu.Lock()
	current := c.state.CurrentDeviceID()
	record := c.state.Find(current)
	c.state.RemoveByID(current)
	dismiss := c.dialogShown
	c.dialogShown = false
	c.mu.Unlock()

	c.fireLogout(true, record)
	if dismiss && c.cfg.UI != nil {
		c.cfg.UI.Dismiss()
	}
}

func (c *SessionController) handleRealtimeDown(err error) {
	c.mu.Lock()
	fns := make([]func(error), 0, len(c.onDown))
	for _, fn := range c.onDown {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}
