package main

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/quocanhngo/devicegate/internal/config"
	"github.com/quocanhngo/devicegate/internal/model"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// Load config
	cfg := config.Load()

	// Force DB logging off to avoid noise
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	log.Println("✅ Connected to Database")

	if err := db.AutoMigrate(&model.ClientApp{}, &model.Device{}, &model.AuditEvent{}); err != nil {
		log.Fatalf("❌ Failed to migrate database: %v", err)
	}

	// Demo client app with a known secret
	secret := "demo-secret-123"
	secretHash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("❌ Failed to hash secret: %v", err)
	}

	app := model.ClientApp{
		ClientID:       "demo-app",
		Name:           "Demo App",
		SecretHash:     string(secretHash),
		DeviceLimit:    2,
		BlockOverUsage: true,
		AlertEmail:     "security@devicegate.local",
	}

	var existing model.ClientApp
	if err := db.Where("client_id = ?", app.ClientID).First(&existing).Error; err == nil {
		app = existing
		log.Printf("🔄 Client app already seeded: %s", app.ClientID)
	} else {
		if err := db.Create(&app).Error; err != nil {
			log.Fatalf("❌ Failed to create client app: %v", err)
		}
		log.Printf("✅ Created client app: %s | Secret: %s", app.ClientID, secret)
	}

	// A few attached devices for one demo user
	log.Println("🌱 Seeding 3 devices for user demo-user...")
	osNames := []string{"iOS", "Android", "macOS"}
	types := []string{"mobile", "mobile", "computer"}
	models := []string{"iPhone 15", "Pixel 8", "MacBook Pro"}

	for i := 0; i < 3; i++ {
		device := model.Device{
			ID:          uuid.NewString(),
			ClientAppID: app.ID,
			UserID:      "demo-user",
			OSName:      osNames[i],
			OSVersion:   fmt.Sprintf("%d.0", 14+i),
			DeviceType:  types[i],
			Model:       models[i],
		}
		if err := db.Create(&device).Error; err != nil {
			log.Printf("❌ Failed to create device %s: %v", device.Model, err)
		} else {
			log.Printf("✅ Created device: %s | ID: %s", device.Model, device.ID)
		}
	}

	log.Println("🎉 Seeding completed!")
}
