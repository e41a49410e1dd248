package models

import (
	"time"

	"github.com/reckon/engine/internal/domain/shared/valueobject"
	"github.com/reckon/engine/internal/domain/usage"
)

// UsageRecordModel is the GORM model for ingested usage observations.
// The unique index makes snapshot re-ingestion a no-op.
type UsageRecordModel struct {
	BaseModel
	EntityID     string    `gorm:"type:varchar(253);not null;uniqueIndex:idx_usage_entity_tier_date,priority:1"`
	TierID       string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_usage_entity_tier_date,priority:2"`
	Count        int64     `gorm:"not null"`
	ObservedAt   time.Time `gorm:"not null;index;uniqueIndex:idx_usage_entity_tier_date,priority:3"`
	SnapshotName string    `gorm:"type:varchar(255);not null"`
}

// TableName returns the table name for the model
func (UsageRecordModel) TableName() string {
	return "usage_records"
}

// ToDomain converts the model to a domain entity
func (m *UsageRecordModel) ToDomain() *usage.UsageRecord {
	return &usage.UsageRecord{
		BaseEntity:   m.BaseModel.ToDomain(),
		EntityID:     m.EntityID,
		TierID:       m.TierID,
		Count:        m.Count,
		ObservedAt:   m.ObservedAt.UTC(),
		SnapshotName: m.SnapshotName,
	}
}

// UsageRecordModelFromDomain creates a model from a domain entity
func UsageRecordModelFromDomain(e *usage.UsageRecord) *UsageRecordModel {
	m := &UsageRecordModel{
		EntityID:     e.EntityID,
		TierID:       e.TierID,
		Count:        e.Count,
		ObservedAt:   e.ObservedAt,
		SnapshotName: e.SnapshotName,
	}
	m.FromDomainBaseEntity(e.BaseEntity)
	return m
}

// MonthlyHighWaterModel is the GORM model for derived peak-usage rows
type MonthlyHighWaterModel struct {
	BaseModel
	EntityID     string    `gorm:"type:varchar(253);not null;uniqueIndex:idx_highwater_pair_period,priority:1"`
	TierID       string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_highwater_pair_period,priority:2"`
	BillingYear  int       `gorm:"not null;index:idx_highwater_period;uniqueIndex:idx_highwater_pair_period,priority:3"`
	BillingMonth int       `gorm:"not null;index:idx_highwater_period;uniqueIndex:idx_highwater_pair_period,priority:4"`
	PeakCount    int64     `gorm:"not null"`
	PeakDate     time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (MonthlyHighWaterModel) TableName() string {
	return "monthly_high_water"
}

// ToDomain converts the model to a domain entity
func (m *MonthlyHighWaterModel) ToDomain() *usage.MonthlyHighWater {
	return &usage.MonthlyHighWater{
		BaseEntity:   m.BaseModel.ToDomain(),
		EntityID:     m.EntityID,
		TierID:       m.TierID,
		BillingYear:  m.BillingYear,
		BillingMonth: m.BillingMonth,
		PeakCount:    m.PeakCount,
		PeakDate:     m.PeakDate.UTC(),
	}
}

// MonthlyHighWaterModelFromDomain creates a model from a domain entity
func MonthlyHighWaterModelFromDomain(e *usage.MonthlyHighWater) *MonthlyHighWaterModel {
	m := &MonthlyHighWaterModel{
		EntityID:     e.EntityID,
		TierID:       e.TierID,
		BillingYear:  e.BillingYear,
		BillingMonth: e.BillingMonth,
		PeakCount:    e.PeakCount,
		PeakDate:     e.PeakDate,
	}
	m.FromDomainBaseEntity(e.BaseEntity)
	return m
}

// PeriodBounds returns the [start, end) instants of a billing period for
// date-range queries over observed_at
func PeriodBounds(period valueobject.BillingPeriod) (time.Time, time.Time) {
	return period.Start(), period.End()
}
