// Package alerter evaluates alert rules against cached sync state.
package alerter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/darshan-rambhia/eldesmon/internal/cache"
	"github.com/darshan-rambhia/eldesmon/internal/config"
	"github.com/darshan-rambhia/eldesmon/internal/model"
	"github.com/darshan-rambhia/eldesmon/internal/notify"
	"github.com/darshan-rambhia/eldesmon/internal/store"
)

// AlertConfig holds configuration for alert rules. A nil rule is disabled.
type AlertConfig struct {
	AuthFailed      *SimpleAlert
	RateLimited     *SustainedAlert
	SyncStale       *StaleAlert
	ArmChanged      *SimpleAlert
	TemperatureHigh *ThresholdAlert
	TemperatureLow  *ThresholdAlert
}

// SimpleAlert triggers on a condition seen in a single evaluation.
type SimpleAlert struct {
	Severity string
	Cooldown time.Duration
}

// SustainedAlert triggers once a condition has held for Duration.
type SustainedAlert struct {
	Duration time.Duration
	Severity string
	Cooldown time.Duration
}

// StaleAlert triggers when no successful pass happened within MaxAge.
type StaleAlert struct {
	MaxAge   time.Duration
	Severity string
	Cooldown time.Duration
}

// ThresholdAlert triggers when a temperature stays past Threshold for Duration.
type ThresholdAlert struct {
	Threshold float64
	Duration  time.Duration
	Severity  string
	Cooldown  time.Duration
}

// DefaultAlertConfig returns sensible alert defaults. Temperature rules are
// off until a threshold is configured.
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		AuthFailed:  &SimpleAlert{Severity: "critical", Cooldown: 6 * time.Hour},
		RateLimited: &SustainedAlert{Duration: 3 * time.Hour, Severity: "warning", Cooldown: 6 * time.Hour},
		SyncStale:   &StaleAlert{MaxAge: 3 * time.Hour, Severity: "warning", Cooldown: 6 * time.Hour},
		ArmChanged:  &SimpleAlert{Severity: "info"},
	}
}

// FromConfig overlays the configured rules on the defaults.
func FromConfig(c config.AlertsConfig) AlertConfig {
	cfg := DefaultAlertConfig()
	if a := c.AuthFailed; a != nil && a.Severity != "" {
		cfg.AuthFailed.Severity = a.Severity
	}
	if a := c.RateLimited; a != nil {
		cfg.RateLimited.Duration = a.Duration.Duration
		if a.Severity != "" {
			cfg.RateLimited.Severity = a.Severity
		}
	}
	if a := c.SyncStale; a != nil {
		cfg.SyncStale.MaxAge = a.MaxAge.Duration
		if a.Severity != "" {
			cfg.SyncStale.Severity = a.Severity
		}
	}
	if a := c.ArmChanged; a != nil && a.Severity != "" {
		cfg.ArmChanged.Severity = a.Severity
	}
	cfg.TemperatureHigh = thresholdFromConfig(c.TemperatureHigh)
	cfg.TemperatureLow = thresholdFromConfig(c.TemperatureLow)
	return cfg
}

func thresholdFromConfig(a *config.AlertTemperature) *ThresholdAlert {
	if a == nil {
		return nil
	}
	sev := a.Severity
	if sev == "" {
		sev = "warning"
	}
	return &ThresholdAlert{Threshold: a.Threshold, Duration: a.Duration.Duration, Severity: sev, Cooldown: time.Hour}
}

// Alerter evaluates rules and sends notifications.
type Alerter struct {
	cache     *cache.Cache
	store     *store.Store
	providers notify.Multi
	config    AlertConfig
	interval  time.Duration
	now       func() time.Time
	started   time.Time

	// Deduplication: maps alert key → last fired time
	lastFired map[string]time.Time

	// Track sustained conditions: maps alert key → first observed time
	sustained map[string]time.Time

	// Last seen armed state per device partition.
	armed map[string]bool
}

// NewAlerter creates a new alerter.
func NewAlerter(c *cache.Cache, s *store.Store, providers []notify.Provider, cfg AlertConfig) *Alerter {
	a := &Alerter{
		cache:     c,
		store:     s,
		providers: notify.Multi(providers),
		config:    cfg,
		interval:  30 * time.Second,
		now:       time.Now,
		lastFired: make(map[string]time.Time),
		sustained: make(map[string]time.Time),
		armed:     make(map[string]bool),
	}
	a.started = a.now()
	return a
}

// Run starts the alerter evaluation loop.
func (a *Alerter) Run(ctx context.Context) error {
	slog.Info("alerter started", "interval", a.interval, "providers", len(a.providers))

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("alerter stopped")
			return ctx.Err()
		case <-ticker.C:
			a.evaluate(ctx)
		}
	}
}

func (a *Alerter) cleanup(now time.Time) {
	const maxAge = 24 * time.Hour
	for key, t := range a.lastFired {
		if now.Sub(t) > maxAge {
			delete(a.lastFired, key)
		}
	}
}

func (a *Alerter) evaluate(ctx context.Context) {
	snap := a.cache.Snapshot()
	now := a.now()

	a.cleanup(now)

	for credID, pass := range snap.Passes {
		account := accountName(snap, credID)

		if cfg := a.config.AuthFailed; cfg != nil && pass.Outcome == model.OutcomeAuthFailed {
			a.fire(ctx, now, fmt.Sprintf("auth_failed:%d", credID), cfg.Cooldown, model.Notification{
				AlertType: "credential_auth_failed",
				Severity:  cfg.Severity,
				Title:     fmt.Sprintf("ELDES login rejected: %s", account),
				Message:   fmt.Sprintf("ELDES Cloud rejected the stored credentials for %s; history is no longer updated", account),
				Account:   account,
				Subject:   account,
				Timestamp: now,
				Metadata:  map[string]string{"run_id": pass.RunID},
			})
		}

		if cfg := a.config.RateLimited; cfg != nil {
			if since, ok := snap.RateLimitedSince[credID]; ok && now.Sub(since) >= cfg.Duration {
				a.fire(ctx, now, fmt.Sprintf("rate_limited:%d", credID), cfg.Cooldown, model.Notification{
					AlertType: "credential_rate_limited",
					Severity:  cfg.Severity,
					Title:     fmt.Sprintf("ELDES rate limit: %s", account),
					Message:   fmt.Sprintf("Every pass for %s has been rate limited for %s", account, now.Sub(since).Round(time.Minute)),
					Account:   account,
					Subject:   account,
					Timestamp: now,
					Metadata:  map[string]string{"since": since.UTC().Format(time.RFC3339)},
				})
			}
		}

		if cfg := a.config.SyncStale; cfg != nil {
			last, ok := snap.LastSuccess[credID]
			base := last
			if !ok {
				base = a.started
			}
			if age := now.Sub(base); age > cfg.MaxAge {
				lastText := "never"
				if ok {
					lastText = fmt.Sprintf("%.0fh ago", age.Hours())
				}
				a.fire(ctx, now, fmt.Sprintf("sync_stale:%d", credID), cfg.Cooldown, model.Notification{
					AlertType: "sync_stale",
					Severity:  cfg.Severity,
					Title:     fmt.Sprintf("ELDES sync stale: %s", account),
					Message:   fmt.Sprintf("Last successful sync for %s: %s (last outcome %s)", account, lastText, pass.Outcome),
					Account:   account,
					Subject:   account,
					Timestamp: now,
					Metadata:  map[string]string{"outcome": pass.Outcome},
				})
			}
		}
	}

	for deviceID, entry := range snap.Devices {
		account := accountName(snap, entry.CredentialID)
		st := entry.Status
		device := st.Device.Name
		if device == "" {
			device = st.IMEI
		}

		if cfg := a.config.ArmChanged; cfg != nil {
			for _, p := range st.Partitions {
				key := fmt.Sprintf("armed:%d/%d", deviceID, p.ID)
				prev, seen := a.armed[key]
				a.armed[key] = p.Armed
				if !seen || prev == p.Armed {
					continue
				}
				state := "disarmed"
				if p.Armed {
					state = "armed"
				}
				a.fire(ctx, now, fmt.Sprintf("%s:%t", key, p.Armed), cfg.Cooldown, model.Notification{
					AlertType: "partition_arm_changed",
					Severity:  cfg.Severity,
					Title:     fmt.Sprintf("%s %s", p.Name, state),
					Message:   fmt.Sprintf("%s / %s is now %s", device, p.Name, state),
					Account:   account,
					Subject:   device,
					Timestamp: now,
					Metadata: map[string]string{
						"armed":        strconv.FormatBool(p.Armed),
						"partition_id": strconv.Itoa(p.ID),
						"imei":         st.IMEI,
					},
				})
			}
		}

		if st.Temperature == nil {
			delete(a.sustained, fmt.Sprintf("temp_high:%d", deviceID))
			delete(a.sustained, fmt.Sprintf("temp_low:%d", deviceID))
			continue
		}
		temp := *st.Temperature
		if cfg := a.config.TemperatureHigh; cfg != nil {
			a.checkSustained(ctx, now, fmt.Sprintf("temp_high:%d", deviceID), temp >= cfg.Threshold, cfg,
				model.Notification{
					AlertType: "temperature_high",
					Severity:  cfg.Severity,
					Title:     fmt.Sprintf("Temperature high: %s", device),
					Message:   fmt.Sprintf("%s reports %.1f°C (threshold %.1f°C)", device, temp, cfg.Threshold),
					Account:   account,
					Subject:   device,
					Timestamp: now,
					Metadata:  map[string]string{"value": fmt.Sprintf("%.1f", temp)},
				})
		}
		if cfg := a.config.TemperatureLow; cfg != nil {
			a.checkSustained(ctx, now, fmt.Sprintf("temp_low:%d", deviceID), temp <= cfg.Threshold, cfg,
				model.Notification{
					AlertType: "temperature_low",
					Severity:  cfg.Severity,
					Title:     fmt.Sprintf("Temperature low: %s", device),
					Message:   fmt.Sprintf("%s reports %.1f°C (threshold %.1f°C)", device, temp, cfg.Threshold),
					Account:   account,
					Subject:   device,
					Timestamp: now,
					Metadata:  map[string]string{"value": fmt.Sprintf("%.1f", temp)},
				})
		}
	}
}

func accountName(snap cache.CacheSnapshot, credID int64) string {
	if login := snap.Logins[credID]; login != "" {
		return login
	}
	return fmt.Sprintf("credential %d", credID)
}

func (a *Alerter) checkSustained(ctx context.Context, now time.Time, key string, breached bool, cfg *ThresholdAlert, notif model.Notification) {
	if !breached {
		delete(a.sustained, key)
		return
	}
	first, ok := a.sustained[key]
	if !ok {
		a.sustained[key] = now
		first = now
	}
	if now.Sub(first) >= cfg.Duration {
		a.fire(ctx, now, key, cfg.Cooldown, notif)
	}
}

func (a *Alerter) fire(ctx context.Context, now time.Time, key string, cooldown time.Duration, notif model.Notification) {
	if last, ok := a.lastFired[key]; ok && now.Sub(last) < cooldown {
		return // still in cooldown
	}
	a.lastFired[key] = now

	if err := a.store.InsertAlert(ctx, now.UnixMilli(), notif.AlertType, notif.Account, notif.Subject, notif.Message, notif.Severity); err != nil {
		slog.Error("storing alert", "type", notif.AlertType, "error", err)
	}

	if err := a.providers.Send(ctx, notif); err != nil {
		slog.Error("sending notification", "alert", notif.AlertType, "error", err)
	}

	slog.Warn("alert fired",
		"type", notif.AlertType,
		"severity", notif.Severity,
		"account", notif.Account,
		"subject", notif.Subject,
		"title", notif.Title,
	)
}
