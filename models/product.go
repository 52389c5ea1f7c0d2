package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a source record in the primary store. Rows are mirrored into
// the "product" index by the transfer task.
type Product struct {
	ID            int             `gorm:"primary_key" json:"id"`
	Name          string          `gorm:"size:400;not null" json:"name"`
	Sku           string          `gorm:"size:400;index" json:"sku"`
	Description   string          `gorm:"type:text" json:"description"`
	CategoryId    int             `gorm:"index" json:"category_id"`
	Price         decimal.Decimal `gorm:"type:decimal(18,4)" json:"price"`
	OldPrice      decimal.Decimal `gorm:"type:decimal(18,4)" json:"old_price"`
	StockQuantity int             `json:"stock_quantity"`
	Published     bool            `gorm:"default:true" json:"published"`
	Deleted       bool            `gorm:"index;default:false" json:"deleted"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
