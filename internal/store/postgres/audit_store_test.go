package postgres

import (
	"testing"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

func TestBuildAuditQuery(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	tests := []struct {
		name      string
		opts      domain.ListOpts
		wantQuery string
		wantArgs  int
	}{
		{
			name:      "no filters",
			opts:      domain.ListOpts{},
			wantQuery: `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1 ORDER BY created_at DESC`,
		},
		{
			name:      "window and page",
			opts:      domain.ListOpts{Since: &since, Until: &until, Limit: 10, Offset: 20},
			wantQuery: `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1 AND created_at >= $1 AND created_at < $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
			wantArgs:  4,
		},
		{
			name:      "until only",
			opts:      domain.ListOpts{Until: &until, Limit: 5},
			wantQuery: `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1 AND created_at < $1 ORDER BY created_at DESC LIMIT $2`,
			wantArgs:  2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := buildAuditQuery(tt.opts)
			if q != tt.wantQuery {
				t.Errorf("query = %s", q)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("args = %d, want %d", len(args), tt.wantArgs)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", Database: "marginbot", User: "u", Password: "p"})
	if got != "postgres://u:p@db:5432/marginbot?sslmode=disable" {
		t.Errorf("dsn = %s", got)
	}
	if got := DSN(ClientConfig{DSN: "postgres://x"}); got != "postgres://x" {
		t.Errorf("dsn = %s", got)
	}
}
