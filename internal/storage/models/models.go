package models

import (
	"time"

	"gorm.io/datatypes"
)

// 状态键
const (
	StateKeyProfile = "profile"
	StateKeyPlan    = "plan"
)

// StateRecord 每个用户的档案与计划各占一行，载荷为 JSON
type StateRecord struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement"`
	OwnerID   string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_state_owner_key"`
	StateKey  string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_state_owner_key"`
	Payload   datatypes.JSON `gorm:"type:json;not null"`
	CreatedAt time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (StateRecord) TableName() string {
	return "scholar_state"
}

// RawInputArchive 原始输入在对象存储中的归档记录
type RawInputArchive struct {
	ObjectName string    `gorm:"type:varchar(255);primaryKey"`
	OwnerID    string    `gorm:"type:varchar(64);not null;index:idx_archive_owner"`
	Kind       string    `gorm:"type:varchar(20);not null"`
	MediaType  string    `gorm:"type:varchar(100)"`
	FileName   string    `gorm:"type:varchar(255)"`
	SizeBytes  int64     `gorm:"not null"`
	CreatedAt  time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (RawInputArchive) TableName() string {
	return "raw_input_archives"
}
