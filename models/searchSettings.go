package models

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/commercekit/searchsync/config"
	"github.com/commercekit/searchsync/utils"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConnectionType selects the authentication scheme for the search index.
type ConnectionType int

const (
	ConnectionTypeApi   ConnectionType = 10
	ConnectionTypeBasic ConnectionType = 20
	ConnectionTypeCloud ConnectionType = 30
)

const searchSettingsCacheKey = "singleton"

// SearchSettings is the singleton connection-settings row for the search
// index. Credentials for exactly one of the three connection modes must be
// present when Active.
type SearchSettings struct {
	ID               int       `gorm:"primary_key" json:"id"`
	Active           bool      `gorm:"not null;default:false" json:"active"`
	ConnectionTypeId int       `gorm:"not null;default:10" json:"connection_type_id" validate:"oneof=10 20 30"`
	Hostnames        string    `gorm:"size:1000" json:"hostnames"`
	Username         string    `gorm:"size:255" json:"username"`
	Password         string    `gorm:"size:255" json:"password"`
	CloudId          string    `gorm:"size:500" json:"cloud_id"`
	ApiKey           string    `gorm:"size:500" json:"api_key"`
	UseFingerprint   bool      `gorm:"not null;default:false" json:"use_fingerprint"`
	Fingerprint      string    `gorm:"size:255" json:"fingerprint"`
	ResultLimit      int       `gorm:"not null;default:10000" json:"result_limit" validate:"gte=0"`
	ImmediateUpdate  bool      `gorm:"not null;default:false" json:"immediate_update"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s SearchSettings) ConnectionType() ConnectionType {
	return ConnectionType(s.ConnectionTypeId)
}

var settingsValidate = validator.New()

// Validate checks the settings are internally consistent, independent of the
// Active flag.
func (s *SearchSettings) Validate() error {
	if err := settingsValidate.Struct(s); err != nil {
		return err
	}

	switch s.ConnectionType() {
	case ConnectionTypeApi:
		if strings.TrimSpace(s.ApiKey) == "" {
			return errors.New("api key is required for the api connection type")
		}
	case ConnectionTypeBasic:
		if strings.TrimSpace(s.Username) == "" || strings.TrimSpace(s.Password) == "" {
			return errors.New("username and password are required for the basic connection type")
		}
	case ConnectionTypeCloud:
		if strings.TrimSpace(s.CloudId) == "" {
			return errors.New("cloud id is required for the cloud connection type")
		}
		if strings.TrimSpace(s.ApiKey) == "" {
			return errors.New("api key is required for the cloud connection type")
		}
	default:
		return fmt.Errorf("unsupported connection type %d", s.ConnectionTypeId)
	}

	if s.ConnectionType() != ConnectionTypeCloud {
		addresses, err := s.Addresses()
		if err != nil {
			return err
		}
		if len(addresses) == 0 {
			return errors.New("at least one hostname is required")
		}
	}

	if s.UseFingerprint && strings.TrimSpace(s.Fingerprint) == "" {
		return errors.New("fingerprint is required when fingerprint verification is enabled")
	}
	return nil
}

// Addresses parses the comma or semicolon separated hostname list into
// endpoint URLs. A malformed address is an error, not a skip.
func (s *SearchSettings) Addresses() ([]string, error) {
	raw := strings.FieldsFunc(s.Hostnames, func(r rune) bool {
		return r == ',' || r == ';'
	})
	addresses := make([]string, 0, len(raw))
	for _, host := range raw {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		parsed, err := url.Parse(host)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("malformed hostname %q", host)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("hostname %q must use http or https", host)
		}
		addresses = append(addresses, parsed.String())
	}
	return addresses, nil
}

// IsConfigured reports whether sync may run: the settings row is active and
// valid.
func (s *SearchSettings) IsConfigured() bool {
	if s == nil || !s.Active {
		return false
	}
	return s.Validate() == nil
}

// ValidateForSave applies full validation only to active settings. Inactive
// drafts may be persisted with incomplete credentials, which is the normal
// state during first-time setup or after disabling sync.
func (s *SearchSettings) ValidateForSave() error {
	if !s.Active {
		return nil
	}
	return s.Validate()
}

// GetSearchSettings loads the singleton settings row, cached with a short
// TTL. A missing row yields inactive defaults rather than an error.
func GetSearchSettings(ctx context.Context) (*SearchSettings, error) {
	cached, err := utils.RetrieveRedisKeyed[SearchSettings](searchSettingsCacheKey)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	var settings SearchSettings
	db := config.GetDB()
	err = db.WithContext(ctx).Order("id ASC").First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &SearchSettings{ConnectionTypeId: int(ConnectionTypeApi), ResultLimit: 10000}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := utils.StoreRedisKeyed[SearchSettings](&settings, searchSettingsCacheKey); err != nil {
		return nil, err
	}
	return &settings, nil
}

// SaveSearchSettings upserts the singleton row and drops the cache entry so
// the next read (and the next index client build) sees the new values.
func SaveSearchSettings(ctx context.Context, settings *SearchSettings) error {
	if settings == nil {
		return fmt.Errorf("%w: settings cannot be nil", utils.ErrorValidation)
	}
	if err := settings.ValidateForSave(); err != nil {
		return fmt.Errorf("%w: %s", utils.ErrorValidation, err.Error())
	}

	settings.ID = 1
	db := config.GetDB()
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(settings).Error
	if err != nil {
		return err
	}
	return utils.RemoveRedisKeyed[SearchSettings](searchSettingsCacheKey)
}
