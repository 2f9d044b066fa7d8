package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/darshan-rambhia/eldesmon/internal/cache"
	"github.com/darshan-rambhia/eldesmon/internal/eldes"
	"github.com/darshan-rambhia/eldesmon/internal/metrics"
	"github.com/darshan-rambhia/eldesmon/internal/model"
)

// DemoAccount is the sentinel login/secret pair that never reaches upstream.
type DemoAccount struct {
	Login  string
	Secret string
}

func (d DemoAccount) matches(login, secret string) bool {
	return d.Login != "" && login == d.Login && secret == d.Secret
}

// Deps are the collaborators of a Syncer. Cache and Metrics may be nil.
type Deps struct {
	Store     Store
	Secrets   Decrypter
	NewClient ClientFactory
	Cache     *cache.Cache
	Metrics   *metrics.Metrics
	Demo      DemoAccount
	Now       func() time.Time
}

// Syncer drives sync passes. Passes for the same credential may overlap;
// history is insert-only so both simply append.
type Syncer struct {
	store     Store
	secrets   Decrypter
	newClient ClientFactory
	writer    *HistoryWriter
	cache     *cache.Cache
	metrics   *metrics.Metrics
	demo      DemoAccount
	now       func() time.Time
}

// NewSyncer creates a Syncer.
func NewSyncer(d Deps) *Syncer {
	if d.Cache == nil {
		d.Cache = cache.New()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Syncer{
		store:     d.Store,
		secrets:   d.Secrets,
		newClient: d.NewClient,
		writer:    NewHistoryWriter(d.Store, d.Metrics),
		cache:     d.Cache,
		metrics:   d.Metrics,
		demo:      d.Demo,
		now:       d.Now,
	}
}

// Cache returns the cache passes report into.
func (s *Syncer) Cache() *cache.Cache { return s.cache }

type account struct {
	cred   *model.Credential
	secret string
}

func (s *Syncer) openCredential(ctx context.Context, id int64) (account, error) {
	cred, err := s.store.GetCredential(ctx, id)
	if err != nil {
		return account{}, err
	}
	secret, err := s.secrets.Decrypt(cred.SecretEncrypted)
	if err != nil {
		return account{}, fmt.Errorf("decrypting secret of credential %d: %w", id, err)
	}
	return account{cred: cred, secret: secret}, nil
}

func (s *Syncer) client(a account) Upstream {
	return s.newClient(eldes.Credentials{
		Login:        a.cred.Login,
		Secret:       a.secret,
		HostDeviceID: a.cred.HostDeviceID,
	})
}

// SyncCredential runs one full pass for one credential. Failures are
// reported in the returned pass, never as an error: a rate limit ends the
// pass without writing anything further and leaves stored history as the
// last known good data.
func (s *Syncer) SyncCredential(ctx context.Context, credentialID int64) model.SyncPass {
	pass := model.SyncPass{
		RunID:        uuid.NewString(),
		CredentialID: credentialID,
		StartedAt:    s.now(),
	}
	log := slog.With("run_id", pass.RunID, "credential_id", credentialID)
	login := ""

	defer func() {
		pass.FinishedAt = s.now()
		s.cache.EndStage(credentialID, pass.RunID)
		s.cache.RecordPass(login, pass)
		s.metrics.PassFinished(pass.Outcome)
		log.Info("sync pass finished",
			"outcome", pass.Outcome,
			"devices", pass.Devices,
			"snapshots", pass.Snapshots,
			"readings", pass.Readings,
			"failures", pass.Failures,
			"duration", pass.FinishedAt.Sub(pass.StartedAt),
		)
	}()

	acct, err := s.openCredential(ctx, credentialID)
	if err != nil {
		log.Error("loading credential failed", "error", err)
		pass.Outcome, pass.Error = model.OutcomeFailed, err.Error()
		return pass
	}
	login = acct.cred.Login

	if s.demo.matches(acct.cred.Login, acct.secret) {
		log.Info("demo credential, skipping upstream")
		pass.Outcome = model.OutcomeDemo
		return pass
	}

	log.Info("sync pass started")
	client := s.client(acct)

	s.cache.SetStage(credentialID, pass.RunID, StageAuthenticating)
	if err := client.Authenticate(ctx); err != nil {
		s.abort(log, &pass, err)
		return pass
	}

	s.cache.SetStage(credentialID, pass.RunID, StageListingDevices)
	devices, err := client.ListDevices(ctx)
	if err != nil {
		s.abort(log, &pass, err)
		return pass
	}
	pass.Devices = len(devices)

	var errs []error
	for _, dev := range devices {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		dlog := log.With("imei", dev.IMEI)

		rowID, err := s.store.UpsertDevice(ctx, credentialID, dev, s.now().UnixMilli())
		if err != nil {
			s.metrics.WriteFailed()
			werr := &WriteError{IMEI: dev.IMEI, Err: err}
			dlog.Error("recording device failed", "error", werr)
			pass.Failures++
			errs = append(errs, werr)
			continue
		}

		s.cache.SetStage(credentialID, pass.RunID, StageFetchingStatus)
		st, err := client.GetDeviceStatus(ctx, dev.IMEI)
		if err != nil {
			if eldes.IsRateLimit(err) || eldes.IsAuth(err) {
				// Remaining devices would hit the same wall.
				s.abort(dlog, &pass, err)
				return pass
			}
			dlog.Error("fetching device status failed", "error", err)
			pass.Failures++
			errs = append(errs, fmt.Errorf("device %s: %w", dev.IMEI, err))
			continue
		}

		s.cache.SetStage(credentialID, pass.RunID, StageWriting)
		res, err := s.write(ctx, credentialID, rowID, st)
		if err != nil {
			dlog.Error("writing device history failed", "error", err)
			pass.Failures++
			errs = append(errs, err)
			continue
		}
		pass.Snapshots += res.Snapshots
		pass.Readings += res.Readings
	}

	pass.Outcome = model.OutcomeOK
	if err := errors.Join(errs...); err != nil {
		pass.Error = err.Error()
	}
	return pass
}

// write appends a status to a device's history and caches it.
func (s *Syncer) write(ctx context.Context, credentialID, deviceID int64, st *model.DeviceStatus) (WriteResult, error) {
	res, err := s.writer.Write(ctx, deviceID, st)
	if err != nil {
		return WriteResult{}, err
	}
	s.cache.UpdateDevice(deviceID, credentialID, *st)
	return res, nil
}

func (s *Syncer) abort(log *slog.Logger, pass *model.SyncPass, err error) {
	pass.Error = err.Error()
	switch {
	case eldes.IsRateLimit(err):
		pass.Outcome = model.OutcomeRateLimited
		log.Warn("upstream rate limit hit, keeping cached data", "error", err)
	case eldes.IsAuth(err):
		pass.Outcome = model.OutcomeAuthFailed
		log.Warn("upstream authentication failed", "error", err)
	default:
		pass.Outcome = model.OutcomeFailed
		log.Error("sync pass failed", "error", err)
	}
}

// SyncAll runs a pass for every stored credential, one after another.
// A failing credential never stops the others.
func (s *Syncer) SyncAll(ctx context.Context) []model.SyncPass {
	ids, err := s.store.ListCredentialIDs(ctx)
	if err != nil {
		slog.Error("listing credentials failed", "error", err)
		return nil
	}
	passes := make([]model.SyncPass, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		passes = append(passes, s.SyncCredential(ctx, id))
	}
	return passes
}

// ControlResult is the outcome of an accepted arm-state change. Status is
// nil when the change was accepted but the refetch failed.
type ControlResult struct {
	Status       *model.DeviceStatus
	RefreshError string
}

// Control changes the arm state of a stored device's partition, then
// refetches the device and appends the new status to history.
func (s *Syncer) Control(ctx context.Context, deviceID int64, action eldes.Action, partitionID *int, partitionName string) (ControlResult, error) {
	var res ControlResult
	dev, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return res, err
	}
	acct, err := s.openCredential(ctx, dev.CredentialID)
	if err != nil {
		return res, err
	}
	if s.demo.matches(acct.cred.Login, acct.secret) {
		return res, ErrDemoCredential
	}

	log := slog.With("credential_id", dev.CredentialID, "device_id", deviceID, "imei", dev.ExternalID)
	client := s.client(acct)
	if err := client.Control(ctx, action, dev.ExternalID, partitionName, partitionID); err != nil {
		return res, err
	}

	st, err := client.GetDeviceStatus(ctx, dev.ExternalID)
	if err != nil {
		log.Warn("refetching status after control failed", "action", action, "error", err)
		res.RefreshError = err.Error()
		return res, nil
	}
	if _, err := s.write(ctx, dev.CredentialID, deviceID, st); err != nil {
		log.Error("writing status after control failed", "error", err)
	}
	res.Status = st
	return res, nil
}
