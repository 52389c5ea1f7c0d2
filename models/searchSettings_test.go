package models

import (
	"testing"
)

func TestSearchSettingsValidatePerMode(t *testing.T) {
	cases := []struct {
		name     string
		settings SearchSettings
		valid    bool
	}{
		{
			name: "api with key and hostnames",
			settings: SearchSettings{
				ConnectionTypeId: int(ConnectionTypeApi),
				Hostnames:        "http://localhost:9200",
				ApiKey:           "a2V5",
			},
			valid: true,
		},
		{
			name: "api without key",
			settings: SearchSettings{
				ConnectionTypeId: int(ConnectionTypeApi),
				Hostnames:        "http://localhost:9200",
			},
			valid: false,
		},
		{
			name: "basic with credentials",
			settings: SearchSettings{
				ConnectionTypeId: int(ConnectionTypeBasic),
				Hostnames:        "https://es1:9200,https://es2:9200",
				Username:         "elastic",
				Password:         "changeme",
			},
			valid: true,
		},
		{
			name: "basic missing password",
			settings: SearchSettings{
				ConnectionTypeId: int(ConnectionTypeBasic),
				Hostnames:        "https://es1:9200",
				Username:         "elastic",
			},
			valid: false,
		},
		{
			name: "cloud with id and key",
			settings: SearchSettings{
				ConnectionTypeId: int(ConnectionTypeCloud),
				CloudId:          "deploy:dXMtZWFzdA==",
				ApiKey:           "a2V5",
			},
			valid: true,
		},
		{
			name: "cloud missing cloud id",
			settings: SearchSettings{
				ConnectionTypeId: int(ConnectionTypeCloud),
				ApiKey:           "a2V5",
			},
			valid: false,
		},
		{
			name: "unsupported connection type",
			settings: SearchSettings{
				ConnectionTypeId: 99,
				Hostnames:        "http://localhost:9200",
				ApiKey:           "a2V5",
			},
			valid: false,
		},
		{
			name: "api without hostnames",
			settings: SearchSettings{
				ConnectionTypeId: int(ConnectionTypeApi),
				ApiKey:           "a2V5",
			},
			valid: false,
		},
		{
			name: "malformed hostname",
			settings: SearchSettings{
				ConnectionTypeId: int(ConnectionTypeApi),
				Hostnames:        "localhost:9200",
				ApiKey:           "a2V5",
			},
			valid: false,
		},
		{
			name: "ftp scheme rejected",
			settings: SearchSettings{
				ConnectionTypeId: int(ConnectionTypeApi),
				Hostnames:        "ftp://localhost:9200",
				ApiKey:           "a2V5",
			},
			valid: false,
		},
		{
			name: "fingerprint enabled without value",
			settings: SearchSettings{
				ConnectionTypeId: int(ConnectionTypeApi),
				Hostnames:        "https://localhost:9200",
				ApiKey:           "a2V5",
				UseFingerprint:   true,
			},
			valid: false,
		},
		{
			name: "fingerprint enabled with value",
			settings: SearchSettings{
				ConnectionTypeId: int(ConnectionTypeApi),
				Hostnames:        "https://localhost:9200",
				ApiKey:           "a2V5",
				UseFingerprint:   true,
				Fingerprint:      "A5:2D:D9:35:11:E7:9A:89:F0:3E:75:8F:0F:B8:F2:F2",
			},
			valid: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.settings.Validate()
			if tc.valid && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.valid && err == nil {
				t.Fatal("Validate passed, want error")
			}
		})
	}
}

func TestSearchSettingsAddresses(t *testing.T) {
	s := SearchSettings{Hostnames: " http://es1:9200 ; https://es2:9200 , https://es3:9200 "}
	addresses, err := s.Addresses()
	if err != nil {
		t.Fatalf("Addresses: %v", err)
	}
	want := []string{"http://es1:9200", "https://es2:9200", "https://es3:9200"}
	if len(addresses) != len(want) {
		t.Fatalf("addresses = %v, want %v", addresses, want)
	}
	for i := range want {
		if addresses[i] != want[i] {
			t.Fatalf("addresses[%d] = %q, want %q", i, addresses[i], want[i])
		}
	}
}

func TestSearchSettingsValidateForSave(t *testing.T) {
	draft := SearchSettings{
		ConnectionTypeId: int(ConnectionTypeApi),
		Hostnames:        "http://localhost:9200",
	}
	if err := draft.ValidateForSave(); err != nil {
		t.Fatalf("inactive draft with missing credentials should save: %v", err)
	}
	draft.Active = true
	if err := draft.ValidateForSave(); err == nil {
		t.Fatal("active settings with missing credentials saved, want error")
	}
	draft.ApiKey = "a2V5"
	if err := draft.ValidateForSave(); err != nil {
		t.Fatalf("active complete settings should save: %v", err)
	}
}

func TestSearchSettingsIsConfigured(t *testing.T) {
	var nilSettings *SearchSettings
	if nilSettings.IsConfigured() {
		t.Fatal("nil settings reported configured")
	}
	inactive := &SearchSettings{
		ConnectionTypeId: int(ConnectionTypeApi),
		Hostnames:        "http://localhost:9200",
		ApiKey:           "a2V5",
	}
	if inactive.IsConfigured() {
		t.Fatal("inactive settings reported configured")
	}
	inactive.Active = true
	if !inactive.IsConfigured() {
		t.Fatal("active valid settings reported unconfigured")
	}
}
