package services

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"petition-hand/models"
	"petition-hand/validators"
)

// snapshotLimit bounds the per-session in-memory index.
const snapshotLimit = 2000

// ClientDirectory resolves client identities from the database.
type ClientDirectory struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewClientDirectory creates a client-backed Directory.
func NewClientDirectory(db *gorm.DB, logger *zap.Logger) *ClientDirectory {
	return &ClientDirectory{DB: db, Logger: logger}
}

// LoadAll fetches the bounded client snapshot for the session index.
func (d *ClientDirectory) LoadAll(ctx context.Context) ([]Identity, error) {
	var clients []models.Client
	if err := d.DB.WithContext(ctx).Limit(snapshotLimit).Find(&clients).Error; err != nil {
		return nil, err
	}
	identities := make([]Identity, 0, len(clients))
	for i := range clients {
		identities = append(identities, ClientIdentity(&clients[i]))
	}
	return identities, nil
}

// FindByDocument looks a client up by exact CPF/CNPJ digits.
func (d *ClientDirectory) FindByDocument(ctx context.Context, digits string) (*Identity, error) {
	var client models.Client
	err := d.DB.WithContext(ctx).
		Where("cpf = ? OR cnpj = ?", digits, digits).
		First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id := ClientIdentity(&client)
	return &id, nil
}

// FindByName runs a partial, case-insensitive name lookup.
func (d *ClientDirectory) FindByName(ctx context.Context, query string) ([]Identity, error) {
	var clients []models.Client
	err := d.DB.WithContext(ctx).
		Where("full_name ILIKE ?", "%"+query+"%").
		Limit(20).
		Find(&clients).Error
	if err != nil {
		return nil, err
	}
	identities := make([]Identity, 0, len(clients))
	for i := range clients {
		identities = append(identities, ClientIdentity(&clients[i]))
	}
	return identities, nil
}

// AuthorityDirectory resolves transit authority identities from the
// database.
type AuthorityDirectory struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewAuthorityDirectory creates an authority-backed Directory.
func NewAuthorityDirectory(db *gorm.DB, logger *zap.Logger) *AuthorityDirectory {
	return &AuthorityDirectory{DB: db, Logger: logger}
}

// LoadAll fetches the bounded authority snapshot for the session index.
func (d *AuthorityDirectory) LoadAll(ctx context.Context) ([]Identity, error) {
	var authorities []models.Authority
	if err := d.DB.WithContext(ctx).Limit(snapshotLimit).Find(&authorities).Error; err != nil {
		return nil, err
	}
	identities := make([]Identity, 0, len(authorities))
	for i := range authorities {
		identities = append(identities, AuthorityIdentity(&authorities[i]))
	}
	return identities, nil
}

// FindByDocument looks an authority up by exact CNPJ digits.
func (d *AuthorityDirectory) FindByDocument(ctx context.Context, digits string) (*Identity, error) {
	var authority models.Authority
	err := d.DB.WithContext(ctx).Where("cnpj = ?", digits).First(&authority).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id := AuthorityIdentity(&authority)
	return &id, nil
}

// FindByName matches authority names and acronyms partially.
func (d *AuthorityDirectory) FindByName(ctx context.Context, query string) ([]Identity, error) {
	var authorities []models.Authority
	err := d.DB.WithContext(ctx).
		Where("name ILIKE ? OR acronym ILIKE ?", "%"+query+"%", "%"+query+"%").
		Limit(20).
		Find(&authorities).Error
	if err != nil {
		return nil, err
	}
	identities := make([]Identity, 0, len(authorities))
	for i := range authorities {
		identities = append(identities, AuthorityIdentity(&authorities[i]))
	}
	return identities, nil
}

// ClientIdentity converts a typed client record into the attribute-bag
// view used at the resolver/autofill boundary.
func ClientIdentity(c *models.Client) Identity {
	document := validators.OnlyDigits(c.CPF)
	if document == "" {
		document = validators.OnlyDigits(c.CNPJ)
	}
	return Identity{
		Kind:     "client",
		ID:       c.ID,
		Document: document,
		Display:  c.FullName,
		Attributes: map[string]string{
			"name":           c.FullName,
			"cpf":            c.CPF,
			"cnpj":           c.CNPJ,
			"rg":             c.RG,
			"cnh":            c.CNH,
			"birth_date":     c.BirthDate,
			"nationality":    c.Nationality,
			"marital_status": c.MaritalStatus,
			"profession":     c.Profession,
			"email":          c.Email,
			"phone":          c.Phone,
			"street":         c.Street,
			"number":         c.Number,
			"complement":     c.Complement,
			"district":       c.District,
			"city":           c.City,
			"state":          c.State,
			"postal_code":    c.PostalCode,
		},
	}
}

// AuthorityIdentity converts a typed authority record into the
// attribute-bag view used at the resolver/autofill boundary.
func AuthorityIdentity(a *models.Authority) Identity {
	return Identity{
		Kind:     "authority",
		ID:       a.ID,
		Document: validators.OnlyDigits(a.CNPJ),
		Display:  a.Name,
		Attributes: map[string]string{
			"name":        a.Name,
			"acronym":     a.Acronym,
			"cnpj":        a.CNPJ,
			"sphere":      a.Sphere,
			"email":       a.Email,
			"phone":       a.Phone,
			"street":      a.Street,
			"number":      a.Number,
			"district":    a.District,
			"city":        a.City,
			"state":       a.State,
			"postal_code": a.PostalCode,
		},
	}
}
