package config

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// InitFirebase initializes the Firebase Admin SDK used for provider push notifications
func InitFirebase(ctx context.Context, cfg FirebaseConfig) (*firebase.App, error) {
	var opt option.ClientOption

	// Check for base64 encoded credentials first
	decoded, err := cfg.CredentialsJSON()
	if err != nil {
		return nil, err
	}
	if decoded != nil {
		log.Printf("Using Firebase credentials from base64 environment variable")
		opt = option.WithCredentialsJSON(decoded)
	} else {
		if cfg.CredentialsFile == "" {
			return nil, fmt.Errorf("firebase credentials not configured: set FIREBASE_CREDENTIALS_BASE64 or GOOGLE_APPLICATION_CREDENTIALS")
		}
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("firebase credentials file: %w", err)
		}
		log.Printf("Using Firebase credentials file: %s", cfg.CredentialsFile)
		opt = option.WithCredentialsFile(cfg.CredentialsFile)
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opt)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	return app, nil
}

// CredentialsJSON decodes the base64 service account, or returns nil when none is set
func (cfg FirebaseConfig) CredentialsJSON() ([]byte, error) {
	if cfg.CredentialsBase64 == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(cfg.CredentialsBase64)
	if err != nil {
		return nil, fmt.Errorf("decode firebase credentials: %w", err)
	}
	return decoded, nil
}
