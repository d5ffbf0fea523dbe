package notification

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// PushService delivers FCM pushes to devices that lost access. It is the
// fallback path for devices without an open listen stream: the data message
// tells the installed SDK that this device was logged out.
type PushService struct {
	client *messaging.Client
}

// NewPushService creates a new FCM push service
func NewPushService(credentialsFile string) (*PushService, error) {
	if credentialsFile == "" {
		log.Println("⚠️ Firebase credentials not provided, push notifications disabled")
		return nil, nil
	}

	opt := option.WithCredentialsFile(credentialsFile)
	app, err := firebase.NewApp(context.Background(), nil, opt)
	if err != nil {
		// Log warning instead of error to not block server startup
		log.Printf("⚠️ Failed to initialize Firebase app: %v (push notifications disabled)", err)
		return nil, nil
	}

	client, err := app.Messaging(context.Background())
	if err != nil {
		log.Printf("⚠️ Failed to get messaging client: %v", err)
		return nil, nil
	}

	log.Println("✅ Firebase FCM initialized")
	return &PushService{client: client}, nil
}

// SendDeviceLogout notifies one device that its access was revoked
func (s *PushService) SendDeviceLogout(ctx context.Context, fcmToken, deviceID string) error {
	if s == nil || s.client == nil || fcmToken == "" {
		return nil
	}

	message := &messaging.Message{
		Token: fcmToken,
		Data: map[string]string{
			"type":      "device_logout",
			"device_id": deviceID,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
				},
			},
		},
	}

	if _, err := s.client.Send(ctx, message); err != nil {
		return fmt.Errorf("error sending logout push: %w", err)
	}
	return nil
}
