package firebase

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	fbapp "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"fixmate/pkg/config"
	"fixmate/pkg/logger"
)

// Clients bundles the Firebase services both binaries talk to.
type Clients struct {
	Auth       *FirebaseAuthClient
	Firestore  *firestore.Client
	Credential option.ClientOption
}

func (c *Clients) Close() error {
	return c.Firestore.Close()
}

// Options returns the credential options for other Google clients.
func (c *Clients) Options() []option.ClientOption {
	if c.Credential == nil {
		return nil
	}
	return []option.ClientOption{c.Credential}
}

// CredentialOption prefers inline service account JSON over a file path and
// falls back to application default credentials.
func CredentialOption(cfg *config.Config) (option.ClientOption, error) {
	if cfg.ServiceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)), nil
	}
	if cfg.ServiceAccountPath != "" {
		if _, err := os.Stat(cfg.ServiceAccountPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account file does not exist: %s", cfg.ServiceAccountPath)
		}
		logger.Info("Using Firebase service account from file: %s", cfg.ServiceAccountPath)
		return option.WithCredentialsFile(cfg.ServiceAccountPath), nil
	}
	logger.Info("Using application default credentials")
	return nil, nil
}

// Init connects Firebase Auth and Firestore for cfg.FirebaseProject.
func Init(ctx context.Context, cfg *config.Config) (*Clients, error) {
	if cfg.FirebaseProject == "" {
		return nil, fmt.Errorf("FIREBASE_PROJECT_ID is required")
	}

	cred, err := CredentialOption(cfg)
	if err != nil {
		return nil, err
	}
	var opts []option.ClientOption
	if cred != nil {
		opts = append(opts, cred)
	}

	app, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase: %v", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase Auth: %v", err)
	}

	firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %v", err)
	}

	return &Clients{
		Auth:       NewFirebaseAuthClient(authClient, cfg.CheckTokenRevoked),
		Firestore:  firestoreClient,
		Credential: cred,
	}, nil
}
