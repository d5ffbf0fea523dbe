package repository

import (
	"github.com/google/uuid"
	"github.com/quocanhngo/devicegate/internal/model"
	"gorm.io/gorm"
)

// ClientRepository handles database operations for ClientApp
type ClientRepository struct {
	db *gorm.DB
}

func NewClientRepository(db *gorm.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// Create inserts a new client app
func (r *ClientRepository) Create(app *model.ClientApp) error {
	return r.db.Create(app).Error
}

// FindByClientID finds a client app by its public client id
func (r *ClientRepository) FindByClientID(clientID string) (*model.ClientApp, error) {
	var app model.ClientApp
	err := r.db.Where("client_id = ?", clientID).First(&app).Error
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// FindByID finds a client app by primary key
func (r *ClientRepository) FindByID(id uuid.UUID) (*model.ClientApp, error) {
	var app model.ClientApp
	err := r.db.Where("id = ?", id).First(&app).Error
	if err != nil {
		return nil, err
	}
	return &app, nil
}
