package models

import (
	"time"
)

// Template is the metadata of a reusable petition document template.
// The template body itself lives in the external document service.
type Template struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Slug        string `json:"slug" gorm:"uniqueIndex;not null"`
	Title       string `json:"title" gorm:"not null"`
	Description string `json:"description,omitempty" gorm:"type:text"`

	Placeholders []Placeholder `json:"placeholders,omitempty" gorm:"foreignKey:TemplateID"`
}

// Placeholder is a named slot in a template, filled during generation.
// Keys are unique within a template; Order drives render/tab sequence.
type Placeholder struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	TemplateID uint `json:"template_id" gorm:"index;uniqueIndex:idx_template_key"`

	Key         string `json:"key" gorm:"uniqueIndex:idx_template_key;not null"`
	Label       string `json:"label,omitempty"`
	Category    string `json:"category" gorm:"index"`
	EntityIndex *int   `json:"entity_index,omitempty"`
	Order       int    `json:"order"`
	FieldType   string `json:"field_type,omitempty"` // text | date | document | email | phone | postal_code
	Required    bool   `json:"required"`
}

// TableName sets the explicit table name for GORM.
func (Template) TableName() string {
	return "templates"
}

// TableName sets the explicit table name for GORM.
func (Placeholder) TableName() string {
	return "placeholders"
}
