package models

import (
	"time"
)

// Authority represents a transit authority petitions are addressed to.
type Authority struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name    string `json:"name" gorm:"uniqueIndex;not null"`
	Acronym string `json:"acronym,omitempty" gorm:"index"`
	CNPJ    string `json:"cnpj,omitempty" gorm:"column:cnpj"`
	Sphere  string `json:"sphere,omitempty"` // municipal | state | federal

	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`

	Street     string `json:"street,omitempty"`
	Number     string `json:"number,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

// TableName sets the explicit table name for GORM.
func (Authority) TableName() string {
	return "authorities"
}
