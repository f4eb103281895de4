package dao

import (
	"context"
	"tradeflow/internal/model"

	"gorm.io/gorm"
)

// OrderRecorder 下单审计的持久化接口，方便测试替换
type OrderRecorder interface {
	InsertOrderRecord(ctx context.Context, record *model.OrderRecord) error
	OrderGetRecent(ctx context.Context, limit int) ([]model.OrderRecord, error)
}

type OrderDao struct {
	db *gorm.DB
}

func NewOrderDao(db *gorm.DB) *OrderDao {
	return &OrderDao{db: db}
}

// 插入下单记录
func (d *OrderDao) InsertOrderRecord(ctx context.Context, record *model.OrderRecord) error {
	return d.db.WithContext(ctx).Create(record).Error
}

// 最近的下单记录，运维接口用
func (d *OrderDao) OrderGetRecent(ctx context.Context, limit int) (records []model.OrderRecord, err error) {
	err = d.db.WithContext(ctx).Model(&model.OrderRecord{}).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return
}

// 查找相同策略+品种下的最后一笔订单
func (d *OrderDao) OrderGetLast(ctx context.Context, strategy string, symbol string) (or model.OrderRecord, err error) {
	err = d.db.WithContext(ctx).Model(&model.OrderRecord{}).
		Where("strategy = ?", strategy).
		Where("symbol = ?", symbol).
		Order("created_at DESC").
		Limit(1).
		Find(&or).Error
	return
}
