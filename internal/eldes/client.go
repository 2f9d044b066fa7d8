// Package eldes is a client for the ELDES Cloud alarm API. It owns the
// upstream token lifecycle and hides the API's inconsistent field naming
// behind canonical model types.
package eldes

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/darshan-rambhia/eldesmon/internal/model"
	"github.com/darshan-rambhia/eldesmon/internal/retry"
)

// DefaultBaseURL is the production ELDES Cloud API root.
const DefaultBaseURL = "https://cloud.eldesalarms.com:8083/api"

const (
	pathLogin        = "/auth/login"
	pathDeviceList   = "/device/list"
	pathDeviceInfo   = "/device/info"
	pathTemperatures = "/device/temperatures"
	pathArm          = "/device/action/arm"
	pathDisarm       = "/device/action/disarm"

	maxBodySize = 10 << 20
)

// Action is an arm-state change request.
type Action string

const (
	ActionArm    Action = "arm"
	ActionDisarm Action = "disarm"
)

// RequestObserver is notified after every upstream exchange. status is 0
// when no response arrived.
type RequestObserver func(endpoint string, status int, elapsed time.Duration)

// Config holds settings shared by every client of one process.
type Config struct {
	BaseURL    string
	Whitelabel string
	Timeout    time.Duration
	Retry      retry.Policy

	// Limiter paces outbound requests. Nil disables pacing.
	Limiter *rate.Limiter
	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
	OnRequest  RequestObserver
	// Now stamps fetched statuses. Nil means time.Now.
	Now func() time.Time
}

// Credentials identify one upstream account.
type Credentials struct {
	Login        string
	Secret       string
	HostDeviceID string // generated from Login when empty
}

// Client talks to ELDES Cloud on behalf of one account. The bearer token
// lives only in this instance.
type Client struct {
	cfg          Config
	creds        Credentials
	hostDeviceID string
	http         *http.Client

	mu           sync.Mutex
	token        string
	refreshToken string
}

// NewClient creates a client for one account. No network call is made.
func NewClient(cfg Config, creds Credentials) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Whitelabel == "" {
		cfg.Whitelabel = "eldes"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	hostID := creds.HostDeviceID
	if hostID == "" {
		hostID = HostDeviceID(creds.Login)
	}
	return &Client{
		cfg:          cfg,
		creds:        creds,
		hostDeviceID: hostID,
		http:         hc,
	}
}

// HostDeviceID derives the stable per-account device identifier sent at login.
func HostDeviceID(login string) string {
	enc := base64.StdEncoding.EncodeToString([]byte(login))
	if len(enc) > 16 {
		enc = enc[:16]
	}
	return "eldes-monitor-" + enc
}

// HasToken reports whether the client currently holds a bearer token.
func (c *Client) HasToken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

func (c *Client) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

type loginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	HostDeviceID string `json:"hostDeviceId"`
}

type loginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// Authenticate logs in and stores the bearer token for this client's lifetime.
func (c *Client) Authenticate(ctx context.Context) error {
	if !strings.Contains(c.creds.Login, "@") {
		return &AuthError{Hint: "login must be an email address"}
	}

	resp, err := c.send(ctx, http.MethodPost, pathLogin, nil, loginRequest{
		Email:        c.creds.Login,
		Password:     c.creds.Secret,
		HostDeviceID: c.hostDeviceID,
	}, false)
	if err != nil {
		return err
	}
	if resp.status < 200 || resp.status > 299 {
		if isRateLimitBody(resp.status, string(resp.body)) {
			return &RateLimitError{UpstreamError: &UpstreamError{
				StatusCode: resp.status,
				Body:       truncate(string(resp.body), 512),
				Endpoint:   pathLogin,
			}}
		}
		ae := &AuthError{StatusCode: resp.status, Body: truncate(string(resp.body), 512)}
		if resp.status == http.StatusUnauthorized {
			ae.Hint = "check that the login is the account email and the password is correct"
		}
		return ae
	}

	var lr loginResponse
	if err := json.Unmarshal(resp.body, &lr); err != nil {
		return &AuthError{StatusCode: resp.status, Hint: "unreadable login response"}
	}
	if lr.Token == "" {
		return &AuthError{StatusCode: resp.status, Hint: "login response carried no token"}
	}

	c.mu.Lock()
	c.token = lr.Token
	c.refreshToken = lr.RefreshToken
	c.mu.Unlock()
	slog.Info("authenticated with ELDES Cloud", "login", c.creds.Login)
	return nil
}

type response struct {
	status int
	body   []byte
}

// send performs one logical request. Transport failures go through the
// retry policy; whatever survives it becomes an UpstreamError.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload any, auth bool) (*response, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request for %s: %w", path, err)
		}
		body = b
	}
	target := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	resp, err := retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) (*response, error) {
		if c.cfg.Limiter != nil {
			if err := c.cfg.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, rd)
		if err != nil {
			return nil, fmt.Errorf("creating request for %s: %w", path, err)
		}
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
		req.Header.Set("x-whitelable", c.cfg.Whitelabel)
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
		if auth {
			if tok := c.bearer(); tok != "" {
				req.Header.Set("Authorization", "Bearer "+tok)
			}
		}

		start := time.Now()
		res, err := c.http.Do(req)
		if err != nil {
			c.observe(path, 0, start)
			return nil, err
		}
		defer res.Body.Close()
		data, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
		c.observe(path, res.StatusCode, start)
		if err != nil {
			return nil, fmt.Errorf("reading response from %s: %w", path, err)
		}
		return &response{status: res.StatusCode, body: data}, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &UpstreamError{Endpoint: path, Err: err}
	}
	return resp, nil
}

func (c *Client) observe(path string, status int, start time.Time) {
	if c.cfg.OnRequest != nil {
		c.cfg.OnRequest(path, status, time.Since(start))
	}
}

// call issues an authenticated request, logging in first when no token is
// held. A 401 triggers one re-authentication and one repeat of the request.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, payload any) (*response, error) {
	if !c.HasToken() {
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
	}
	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, method, path, query, payload, true)
		if err != nil {
			return nil, err
		}
		if resp.status != http.StatusUnauthorized || attempt > 0 {
			return resp, nil
		}
		slog.Info("upstream token rejected, re-authenticating", "endpoint", path)
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
	}
}

// ListDevices returns every device of the account in upstream order.
func (c *Client) ListDevices(ctx context.Context) ([]model.Device, error) {
	devices, _, err := c.listDevices(ctx)
	return devices, err
}

func (c *Client) listDevices(ctx context.Context) ([]model.Device, []byte, error) {
	resp, err := c.call(ctx, http.MethodGet, pathDeviceList, url.Values{"showSupportMessages": {"true"}}, nil)
	if err != nil {
		return nil, nil, err
	}
	if resp.status != http.StatusOK {
		return nil, nil, newUpstreamError(pathDeviceList, resp.status, resp.body)
	}
	devices, err := ParseDeviceList(resp.body)
	if err != nil {
		return nil, nil, &UpstreamError{StatusCode: resp.status, Endpoint: pathDeviceList, Err: err}
	}
	return devices, resp.body, nil
}

// DeviceInfo fetches the free-form device info object for one device.
func (c *Client) DeviceInfo(ctx context.Context, imei string) (*model.DeviceInfo, []byte, error) {
	resp, err := c.call(ctx, http.MethodGet, pathDeviceInfo, url.Values{"imei": {imei}}, nil)
	if err != nil {
		return nil, nil, err
	}
	if resp.status != http.StatusOK {
		return nil, nil, newUpstreamError(pathDeviceInfo, resp.status, resp.body)
	}
	info, err := ParseDeviceInfo(resp.body)
	if err != nil {
		return nil, nil, &UpstreamError{StatusCode: resp.status, Endpoint: pathDeviceInfo, Err: err}
	}
	return info, resp.body, nil
}

// Temperatures fetches the sensor readings for one device.
func (c *Client) Temperatures(ctx context.Context, imei string) ([]model.TemperatureSensor, []byte, error) {
	resp, err := c.call(ctx, http.MethodPost, pathTemperatures, url.Values{"imei": {imei}}, map[string]string{"": "", "pin": ""})
	if err != nil {
		return nil, nil, err
	}
	if resp.status != http.StatusOK {
		return nil, nil, newUpstreamError(pathTemperatures, resp.status, resp.body)
	}
	sensors, err := ParseTemperatures(resp.body)
	if err != nil {
		return nil, nil, &UpstreamError{StatusCode: resp.status, Endpoint: pathTemperatures, Err: err}
	}
	return sensors, resp.body, nil
}

// GetDeviceStatus fetches one device's canonical status. Only the device
// list is required; temperature and device info degrade to absent data.
func (c *Client) GetDeviceStatus(ctx context.Context, imei string) (*model.DeviceStatus, error) {
	devices, listRaw, err := c.listDevices(ctx)
	if err != nil {
		return nil, err
	}
	var dev *model.Device
	for i := range devices {
		if devices[i].IMEI == imei {
			dev = &devices[i]
			break
		}
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, imei)
	}

	raw := RawPayloads{DeviceList: listRaw}

	sensors, tempRaw, err := c.Temperatures(ctx, imei)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("temperature fetch failed, continuing without it", "imei", imei, "error", err)
		sensors = nil
	} else {
		raw.Temperature = tempRaw
	}

	info, infoRaw, err := c.DeviceInfo(ctx, imei)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("device info fetch failed, continuing without it", "imei", imei, "error", err)
		info = nil
	} else {
		raw.DeviceInfo = infoRaw
	}

	return BuildStatus(*dev, info, sensors, raw, c.cfg.Now())
}

// ArmPartition arms the named partition of the device at location.
func (c *Client) ArmPartition(ctx context.Context, location, partition string) error {
	return c.Control(ctx, ActionArm, location, partition, nil)
}

// DisarmPartition disarms the named partition of the device at location.
func (c *Client) DisarmPartition(ctx context.Context, location, partition string) error {
	return c.Control(ctx, ActionDisarm, location, partition, nil)
}

type controlRequest struct {
	IMEI           string `json:"imei"`
	PartitionIndex int    `json:"partitionIndex"`
}

// Control resolves location and partition against a fresh device list and
// issues the arm-state change. location matches a device name or IMEI; the
// partition is matched by name, then id, then the single-partition default.
// Only HTTP 202 counts as success.
func (c *Client) Control(ctx context.Context, action Action, location, partition string, partitionID *int) error {
	var path string
	switch action {
	case ActionArm:
		path = pathArm
	case ActionDisarm:
		path = pathDisarm
	default:
		return &ControlError{Action: action, Location: location, Partition: partition, Err: fmt.Errorf("unknown action %q", action)}
	}

	fail := func(err error) error {
		if IsAuth(err) || IsRateLimit(err) {
			return err
		}
		return &ControlError{Action: action, Location: location, Partition: partition, Err: err}
	}

	devices, _, err := c.listDevices(ctx)
	if err != nil {
		return fail(err)
	}
	dev, ok := FindDevice(devices, location)
	if !ok {
		return fail(fmt.Errorf("%w: %q", ErrDeviceNotFound, location))
	}
	p, err := ResolvePartition(dev, partition, partitionID)
	if err != nil {
		return fail(err)
	}

	resp, err := c.call(ctx, http.MethodPost, path, nil, controlRequest{IMEI: dev.IMEI, PartitionIndex: p.ID})
	if err != nil {
		return fail(err)
	}
	if resp.status != http.StatusAccepted {
		if isRateLimitBody(resp.status, string(resp.body)) {
			return newUpstreamError(path, resp.status, resp.body)
		}
		return &ControlError{
			Action:     action,
			Location:   location,
			Partition:  p.Name,
			StatusCode: resp.status,
			Body:       truncate(string(resp.body), 512),
		}
	}
	slog.Info("partition control accepted", "action", action, "imei", dev.IMEI, "partition", p.Name)
	return nil
}

// IsPartitionArmed reports the current armed flag of a partition. An unknown
// device or partition reads as not armed.
func (c *Client) IsPartitionArmed(ctx context.Context, location, partition string) (bool, error) {
	devices, _, err := c.listDevices(ctx)
	if err != nil {
		return false, err
	}
	dev, ok := FindDevice(devices, location)
	if !ok {
		return false, nil
	}
	p, err := ResolvePartition(dev, partition, nil)
	if err != nil {
		return false, nil
	}
	return p.Armed, nil
}
