package models

import "time"

// Category is a source record in the primary store. Rows are mirrored into
// the "category" index by the transfer task.
type Category struct {
	ID               int       `gorm:"primary_key" json:"id"`
	Name             string    `gorm:"size:400;not null" json:"name"`
	Description      string    `gorm:"type:text" json:"description"`
	ParentCategoryId int       `gorm:"index" json:"parent_category_id"`
	DisplayOrder     int       `json:"display_order"`
	Published        bool      `gorm:"default:true" json:"published"`
	Deleted          bool      `gorm:"index;default:false" json:"deleted"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
