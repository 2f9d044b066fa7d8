// Package collector runs sync passes against ELDES Cloud and appends their
// results to the history tables.
package collector

import (
	"context"
	"errors"

	"github.com/darshan-rambhia/eldesmon/internal/cache"
	"github.com/darshan-rambhia/eldesmon/internal/eldes"
	"github.com/darshan-rambhia/eldesmon/internal/model"
)

// Upstream is the part of the ELDES client a sync pass uses.
type Upstream interface {
	Authenticate(ctx context.Context) error
	ListDevices(ctx context.Context) ([]model.Device, error)
	GetDeviceStatus(ctx context.Context, imei string) (*model.DeviceStatus, error)
	Control(ctx context.Context, action eldes.Action, location, partition string, partitionID *int) error
}

// ClientFactory builds a fresh Upstream for one pass. Tokens never outlive it.
type ClientFactory func(creds eldes.Credentials) Upstream

// Store is the persistence a sync pass reads credentials from and writes to.
type Store interface {
	HistoryStore
	GetCredential(ctx context.Context, id int64) (*model.Credential, error)
	ListCredentialIDs(ctx context.Context) ([]int64, error)
	UpsertDevice(ctx context.Context, credentialID int64, dev model.Device, seenAt int64) (int64, error)
	GetDevice(ctx context.Context, id int64) (*model.DeviceRecord, error)
}

// Decrypter opens stored credential secrets.
type Decrypter interface {
	Decrypt(sealed string) (string, error)
}

// Pass stages, as reported by the sync status endpoint.
const (
	StageIdle           = cache.StageIdle
	StageAuthenticating = "authenticating"
	StageListingDevices = "listing_devices"
	StageFetchingStatus = "fetching_status"
	StageWriting        = "writing"
)

// ErrDemoCredential is returned for operations that need a real upstream
// account when the credential is the demo one.
var ErrDemoCredential = errors.New("demo credential has no upstream account")
