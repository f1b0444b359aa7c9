package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVICE_NAME", "")
	t.Setenv("SEED_STOCK", "")
	t.Setenv("DB_NAME", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "fulfillment-inventory" || cfg.Postgres.Name != "inventory" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SeedStock["STICKER"] != 100 || cfg.SeedStock["BOOKS"] != 10 {
		t.Fatalf("unexpected stock %v", cfg.SeedStock)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestParseStock(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		wantErr bool
	}{
		{"valid", []string{"BOOKS=3", " MOVIES = 4 "}, false},
		{"missing separator", []string{"BOOKS"}, true},
		{"negative", []string{"BOOKS=-1"}, true},
		{"not a number", []string{"BOOKS=many"}, true},
		{"blank code", []string{"=1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stock, err := ParseStock(tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && stock["MOVIES"] != 4 {
				t.Fatalf("unexpected stock %v", stock)
			}
		})
	}
}

func TestLoadRejectsBadStock(t *testing.T) {
	t.Setenv("SEED_STOCK", "BOOKS=x")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid SEED_STOCK")
	}
}
