package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

const (
	archiveDateLayout = "2006-01-02T15-04-05Z"
	auditPageSize     = 1000
)

// ArchiveImpl implements domain.Archiver. Each run uploads the records
// between the previous archive's cutoff and the new cutoff as one JSONL
// object:
//
//	archive/audit/<cutoff>.jsonl
//	archive/liquidations/<cutoff>.jsonl
//
// The previous cutoff is recovered from the object names, so runs are
// incremental without extra state. Rows stay in Postgres.
type ArchiveImpl struct {
	writer       domain.BlobWriter
	reader       domain.BlobReader
	audit        domain.AuditStore
	liquidations domain.LiquidationStore
}

// NewArchiver creates an ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, liquidations domain.LiquidationStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, reader: reader, audit: audit, liquidations: liquidations}
}

type auditRecord struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type liquidationRecord struct {
	ID          string    `json:"id"`
	ManagerID   string    `json:"manager_id"`
	PoolKey     string    `json:"pool_key"`
	DebtIsBase  bool      `json:"debt_is_base"`
	RepayAmount float64   `json:"repay_amount"`
	RiskRatio   string    `json:"risk_ratio"`
	Digest      string    `json:"digest,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ArchiveAudit uploads audit entries created before the cutoff.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	since, err := a.lastCutoff(ctx, "audit")
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit: %w", err)
	}
	if !since.Before(before) {
		return 0, nil
	}

	var records []auditRecord
	for offset := 0; ; offset += auditPageSize {
		opts := domain.ListOpts{Limit: auditPageSize, Offset: offset, Until: &before}
		if !since.IsZero() {
			opts.Since = &since
		}
		page, err := a.audit.List(ctx, opts)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		for _, e := range page {
			records = append(records, auditRecord{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt})
		}
		if len(page) < auditPageSize {
			break
		}
	}
	// List is newest first
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	return upload(ctx, a, "audit", before, since, records)
}

// ArchiveLiquidations uploads liquidation attempts created before the cutoff.
func (a *ArchiveImpl) ArchiveLiquidations(ctx context.Context, before time.Time) (int64, error) {
	since, err := a.lastCutoff(ctx, "liquidations")
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive liquidations: %w", err)
	}
	if !since.Before(before) {
		return 0, nil
	}

	attempts, err := a.liquidations.ListBetween(ctx, since, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive liquidations query: %w", err)
	}
	records := make([]liquidationRecord, len(attempts))
	for i, at := range attempts {
		records[i] = liquidationRecord{
			ID:          at.ID,
			ManagerID:   at.ManagerID,
			PoolKey:     at.PoolKey,
			DebtIsBase:  at.DebtIsBase,
			RepayAmount: at.RepayAmount,
			RiskRatio:   domain.FormatRatio(at.RiskRatio),
			Digest:      at.Digest,
			Status:      string(at.Status),
			Error:       at.Error,
			CreatedAt:   at.CreatedAt,
		}
	}
	return upload(ctx, a, "liquidations", before, since, records)
}

func upload[T any](ctx context.Context, a *ArchiveImpl, kind string, before, since time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	p := archivePath(kind, before)
	if err := a.writer.Put(ctx, p, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	detail := map[string]any{
		"path":   p,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	}
	if !since.IsZero() {
		detail["since"] = since.UTC().Format(time.RFC3339)
	}
	if err := a.audit.Log(ctx, "archive."+kind, detail); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// lastCutoff returns the cutoff of the newest archive of kind, or the zero
// time when none exists.
func (a *ArchiveImpl) lastCutoff(ctx context.Context, kind string) (time.Time, error) {
	infos, err := a.reader.List(ctx, "archive/"+kind+"/")
	if err != nil {
		return time.Time{}, err
	}
	var last time.Time
	for _, info := range infos {
		name := strings.TrimSuffix(path.Base(info.Path), ".jsonl")
		t, err := time.Parse(archiveDateLayout, name)
		if err != nil {
			continue
		}
		if t.After(last) {
			last = t
		}
	}
	return last, nil
}

func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format(archiveDateLayout))
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
