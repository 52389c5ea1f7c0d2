package searchsync

import (
	"context"
	"sync"

	"github.com/commercekit/searchsync/models"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/sirupsen/logrus"
)

// SettingsProvider loads the current connection settings. The default
// provider reads the persisted singleton row.
type SettingsProvider func(ctx context.Context) (*models.SearchSettings, error)

// ClientProvider hands out the shared index client. Satisfied by
// ConnectionManager; tests substitute fakes.
type ClientProvider interface {
	Client(ctx context.Context) (*elasticsearch.Client, error)
}

// ConnectionManager owns the single shared client handle to the search
// index. Initialization is lazy and single-flight: the first caller builds
// the client while concurrent callers block on the same attempt; once built
// the handle is immutable and cached until Invalidate.
type ConnectionManager struct {
	mu       sync.Mutex
	client   *elasticsearch.Client
	logger   *logrus.Logger
	settings SettingsProvider
}

func NewConnectionManager(logger *logrus.Logger, settings SettingsProvider) *ConnectionManager {
	if settings == nil {
		settings = func(ctx context.Context) (*models.SearchSettings, error) {
			return models.GetSearchSettings(ctx)
		}
	}
	return &ConnectionManager{
		logger:   logger,
		settings: settings,
	}
}

// Client returns the shared client, initializing it on first use. Failed
// attempts are not cached, so a later call after a settings fix can succeed.
func (m *ConnectionManager) Client(ctx context.Context) (*elasticsearch.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}

	settings, err := m.settings(ctx)
	if err != nil {
		return nil, &ConnectionError{Op: "load settings", Err: err}
	}
	if settings == nil || !settings.Active {
		return nil, ErrNotConfigured
	}
	if err := settings.Validate(); err != nil {
		return nil, &ConfigurationError{Reason: "settings rejected", Err: err}
	}

	cfg, err := buildClientConfig(settings)
	if err != nil {
		return nil, err
	}

	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, &ConfigurationError{Reason: "client construction failed", Err: err}
	}

	m.client = client
	if m.logger != nil {
		m.logger.WithFields(logrus.Fields{
			"module":         "searchsync",
			"connectionType": settings.ConnectionTypeId,
		}).Info("search index client initialized")
	}
	return m.client, nil
}

// Invalidate drops the cached handle so the next Client call reinitializes
// from fresh settings. Called after the admin updates connection settings.
func (m *ConnectionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.client = nil
}

func buildClientConfig(settings *models.SearchSettings) (elasticsearch.Config, error) {
	var cfg elasticsearch.Config

	switch settings.ConnectionType() {
	case models.ConnectionTypeApi:
		addresses, err := settings.Addresses()
		if err != nil {
			return cfg, &ConfigurationError{Reason: "bad hostnames", Err: err}
		}
		if len(addresses) == 0 {
			return cfg, &ConfigurationError{Reason: "no hostnames configured"}
		}
		cfg.Addresses = addresses
		cfg.APIKey = settings.ApiKey
	case models.ConnectionTypeBasic:
		addresses, err := settings.Addresses()
		if err != nil {
			return cfg, &ConfigurationError{Reason: "bad hostnames", Err: err}
		}
		if len(addresses) == 0 {
			return cfg, &ConfigurationError{Reason: "no hostnames configured"}
		}
		cfg.Addresses = addresses
		cfg.Username = settings.Username
		cfg.Password = settings.Password
	case models.ConnectionTypeCloud:
		// CloudID and Addresses are mutually exclusive in the client.
		cfg.CloudID = settings.CloudId
		cfg.APIKey = settings.ApiKey
	default:
		return cfg, &ConfigurationError{Reason: "unsupported connection type"}
	}

	if settings.UseFingerprint {
		if settings.Fingerprint == "" {
			return cfg, &ConfigurationError{Reason: "fingerprint enabled but empty"}
		}
		cfg.CertificateFingerprint = settings.Fingerprint
	}

	return cfg, nil
}
