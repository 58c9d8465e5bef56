package incidentstore

import (
	"context"
	"fmt"
	"time"

	"github.com/E4Itraining/AIOBS-sub000/guardrails"
	"github.com/E4Itraining/AIOBS-sub000/internal/database"
	"github.com/E4Itraining/AIOBS-sub000/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const appendRetries = 3

// incidentRow 事件表结构
type incidentRow struct {
	ID             string    `gorm:"primaryKey;size:36"`
	Sequence       uint64    `gorm:"not null;index:idx_incident_order,priority:2"`
	Timestamp      time.Time `gorm:"not null;index:idx_incident_order,priority:1"`
	Class          string    `gorm:"size:32;not null;index"`
	Severity       string    `gorm:"size:16;not null;index"`
	Score          float64   `gorm:"not null"`
	RequestID      string    `gorm:"size:128;index"`
	Recommendation string    `gorm:"size:16;not null"`
	Technique      string    `gorm:"size:64"`
	Description    string    `gorm:"type:text"`
	Status         string    `gorm:"size:16;not null"`
	TenantID       string    `gorm:"size:128;index"`
	UserID         string    `gorm:"size:128"`
	ModelID        string    `gorm:"size:128"`
	ContentHash    string    `gorm:"size:64"`
}

// TableName 实现 gorm.Tabler
func (incidentRow) TableName() string { return "guardrail_incidents" }

func toRow(inc guardrails.Incident) incidentRow {
	return incidentRow{
		ID:             inc.ID,
		Sequence:       inc.Sequence,
		Timestamp:      inc.Timestamp.UTC(),
		Class:          string(inc.Class),
		Severity:       string(inc.Severity),
		Score:          inc.Score,
		RequestID:      inc.RequestID,
		Recommendation: string(inc.Recommendation),
		Technique:      inc.Technique,
		Description:    inc.Description,
		Status:         string(inc.Status),
		TenantID:       inc.TenantID,
		UserID:         inc.UserID,
		ModelID:        inc.ModelID,
		ContentHash:    inc.ContentHash,
	}
}

func (r incidentRow) incident() guardrails.Incident {
	return guardrails.Incident{
		ID:             r.ID,
		Sequence:       r.Sequence,
		Timestamp:      r.Timestamp.UTC(),
		Class:          guardrails.ThreatClass(r.Class),
		Severity:       guardrails.Severity(r.Severity),
		Score:          r.Score,
		RequestID:      r.RequestID,
		Recommendation: guardrails.Recommendation(r.Recommendation),
		Technique:      r.Technique,
		Description:    r.Description,
		Status:         guardrails.IncidentStatus(r.Status),
		TenantID:       r.TenantID,
		UserID:         r.UserID,
		ModelID:        r.ModelID,
		ContentHash:    r.ContentHash,
	}
}

// =============================================================================
// 🗄️ SQL 事件存储
// =============================================================================

// SQLStore 基于 GORM 的事件存储，支持 postgres、mysql、sqlite
type SQLStore struct {
	pool    *database.PoolManager
	backend string
	logger  *zap.Logger
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore 迁移事件表并返回存储
func NewSQLStore(ctx context.Context, pool *database.PoolManager, logger *zap.Logger) (*SQLStore, error) {
	db := pool.DB()
	if err := db.WithContext(ctx).AutoMigrate(&incidentRow{}); err != nil {
		return nil, fmt.Errorf("migrate incident table: %w", err)
	}

	s := &SQLStore{
		pool:    pool,
		backend: db.Dialector.Name(),
		logger:  logger.With(zap.String("component", "incident_store"), zap.String("backend", db.Dialector.Name())),
	}
	s.logger.Info("sql incident store ready")
	return s, nil
}

// Backend 返回方言名
func (s *SQLStore) Backend() string { return s.backend }

// Append 插入一条事件，只插入不更新
func (s *SQLStore) Append(ctx context.Context, inc guardrails.Incident) error {
	row := toRow(inc)
	err := s.pool.WithTransactionRetry(ctx, appendRetries, func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		return types.NewError(types.ErrStoreUnavailable, "insert incident").
			WithCause(err).
			WithRetryable(database.IsRetryableError(err))
	}
	return nil
}

// List 实现 Reader
func (s *SQLStore) List(ctx context.Context, filter *guardrails.IncidentFilter) ([]guardrails.Incident, int64, error) {
	query := func() *gorm.DB {
		return applyFilter(s.pool.DB().WithContext(ctx).Model(&incidentRow{}), filter)
	}

	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, types.NewError(types.ErrStoreUnavailable, "count incidents").WithCause(err)
	}

	q := query().Order("timestamp ASC").Order("sequence ASC")
	if filter != nil {
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
	}

	var rows []incidentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, types.NewError(types.ErrStoreUnavailable, "list incidents").WithCause(err)
	}

	out := make([]guardrails.Incident, len(rows))
	for i, r := range rows {
		out[i] = r.incident()
	}
	return out, total, nil
}

// Ping 检查连接
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close 关闭连接池
func (s *SQLStore) Close() error {
	return s.pool.Close()
}

func applyFilter(q *gorm.DB, f *guardrails.IncidentFilter) *gorm.DB {
	if f == nil {
		return q
	}
	if f.Class != "" {
		q = q.Where("class = ?", string(f.Class))
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", string(f.Severity))
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.TenantID != "" {
		q = q.Where("tenant_id = ?", f.TenantID)
	}
	if f.RequestID != "" {
		q = q.Where("request_id = ?", f.RequestID)
	}
	if f.Since != nil {
		q = q.Where("timestamp >= ?", f.Since.UTC())
	}
	if f.Until != nil {
		q = q.Where("timestamp <= ?", f.Until.UTC())
	}
	return q
}
