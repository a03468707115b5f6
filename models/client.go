package models

import (
	"time"
)

// Client represents a person or company the office files petitions for.
type Client struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Kind string `json:"kind" gorm:"index;default:'person'"` // person | company

	FullName  string `json:"full_name" gorm:"index;not null"`
	CPF       string `json:"cpf,omitempty" gorm:"column:cpf;uniqueIndex"`
	CNPJ      string `json:"cnpj,omitempty" gorm:"column:cnpj"`
	RG        string `json:"rg,omitempty" gorm:"column:rg"`
	CNH       string `json:"cnh,omitempty" gorm:"column:cnh"`
	BirthDate string `json:"birth_date,omitempty"` // dd/mm/yyyy

	Nationality   string `json:"nationality,omitempty"`
	MaritalStatus string `json:"marital_status,omitempty"`
	Profession    string `json:"profession,omitempty"`

	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`

	Street     string `json:"street,omitempty"`
	Number     string `json:"number,omitempty"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

// TableName sets the explicit table name for GORM.
func (Client) TableName() string {
	return "clients"
}
