package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
}

func (m *memBlobs) Put(_ context.Context, p string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[p] = b
	return nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

type memAudit struct {
	entries []domain.AuditEntry
	logged  []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.logged = append(m.logged, event)
	return nil
}

func (m *memAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !e.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

type memLiquidations struct {
	attempts []domain.LiquidationAttempt
}

func (m *memLiquidations) Insert(_ context.Context, a domain.LiquidationAttempt) error {
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memLiquidations) ListRecent(_ context.Context, _ int) ([]domain.LiquidationAttempt, error) {
	return m.attempts, nil
}

func (m *memLiquidations) ListBetween(_ context.Context, since, until time.Time) ([]domain.LiquidationAttempt, error) {
	var out []domain.LiquidationAttempt
	for _, a := range m.attempts {
		if !a.CreatedAt.Before(since) && a.CreatedAt.Before(until) {
			out = append(out, a)
		}
	}
	return out, nil
}

func TestArchiveAuditIsIncremental(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	blobs := &memBlobs{objects: map[string][]byte{}}
	audit := &memAudit{entries: []domain.AuditEntry{
		{ID: 1, Event: "action.deposit", CreatedAt: base},
		{ID: 2, Event: "action.borrow", CreatedAt: base.Add(time.Hour)},
		{ID: 3, Event: "action.repay", CreatedAt: base.Add(48 * time.Hour)},
	}}
	a := NewArchiver(blobs, blobs, audit, &memLiquidations{})

	cut1 := base.Add(24 * time.Hour)
	n, err := a.ArchiveAudit(context.Background(), cut1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("first run archived %d, want 2", n)
	}
	first := blobs.objects[archivePath("audit", cut1)]
	if lines := bytes.Count(first, []byte("\n")); lines != 2 {
		t.Fatalf("lines = %d", lines)
	}
	if !bytes.HasPrefix(first, []byte(`{"id":1,`)) {
		t.Errorf("first line = %s", first)
	}

	// same cutoff again: nothing new
	if n, err := a.ArchiveAudit(context.Background(), cut1); err != nil || n != 0 {
		t.Fatalf("rerun = %d, %v", n, err)
	}

	cut2 := base.Add(72 * time.Hour)
	n, err = a.ArchiveAudit(context.Background(), cut2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("second run archived %d, want 1", n)
	}
	if len(audit.logged) != 2 || audit.logged[0] != "archive.audit" {
		t.Errorf("audit log = %v", audit.logged)
	}
}

func TestArchiveLiquidations(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	blobs := &memBlobs{objects: map[string][]byte{}}
	liqs := &memLiquidations{attempts: []domain.LiquidationAttempt{
		{ID: "a", ManagerID: "0x1", RiskRatio: 0.98, Status: domain.LiquidationSucceeded, CreatedAt: base},
	}}
	a := NewArchiver(blobs, blobs, &memAudit{}, liqs)

	n, err := a.ArchiveLiquidations(context.Background(), base.Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("archived = %d, %v", n, err)
	}
	body := string(blobs.objects[archivePath("liquidations", base.Add(time.Hour))])
	if !strings.Contains(body, `"risk_ratio":"0.98"`) || !strings.Contains(body, `"status":"succeeded"`) {
		t.Fatalf("body = %s", body)
	}
}

func TestArchiveNothingToDo(t *testing.T) {
	blobs := &memBlobs{objects: map[string][]byte{}}
	a := NewArchiver(blobs, blobs, &memAudit{}, &memLiquidations{})
	n, err := a.ArchiveLiquidations(context.Background(), time.Now())
	if err != nil || n != 0 || len(blobs.objects) != 0 {
		t.Fatalf("n = %d, err = %v, objects = %d", n, err, len(blobs.objects))
	}
}
