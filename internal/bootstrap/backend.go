package bootstrap

import (
	"context"
	"fmt"

	"fixmate/internal/adapter/api/middleware"
	"fixmate/internal/adapter/repository"
	domainrepo "fixmate/internal/domain/repository"
	"fixmate/internal/infrastructure/firebase"
	"fixmate/internal/infrastructure/realtime"
	"fixmate/internal/infrastructure/storage"
	"fixmate/pkg/config"
	"fixmate/pkg/logger"
)

const (
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

// Backend is the data platform the messaging core runs against.
type Backend struct {
	Name          string
	Conversations domainrepo.ConversationRepository
	Messages      domainrepo.MessageRepository
	Profiles      domainrepo.ProfileRepository
	Storage       domainrepo.AttachmentStorage
	Feed          domainrepo.MessageFeed
	Verifier      middleware.TokenVerifier

	// Memory is set for the in-memory backend so it can be seeded.
	Memory *repository.MemoryStore

	closers []func() error
}

func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn("Backend Warning: Failed to close %s client: %v", b.Name, err)
		}
	}
}

// Open connects the backend selected by cfg.DataBackend.
func Open(ctx context.Context, cfg *config.Config) (*Backend, error) {
	switch cfg.DataBackend {
	case BackendMemory:
		return openMemory(cfg)
	case BackendFirestore, "":
		return openFirestore(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown DATA_BACKEND %q", cfg.DataBackend)
}

func openMemory(cfg *config.Config) (*Backend, error) {
	if cfg.Environment != "development" {
		return nil, fmt.Errorf("the memory backend is only available in development")
	}
	logger.Warn("Using in-memory backend: data is lost on restart and any dev-<uid> token is accepted")

	store := repository.NewMemoryStore()
	return &Backend{
		Name:          BackendMemory,
		Conversations: store.Conversations(),
		Messages:      store.Messages(),
		Profiles:      store.Profiles(),
		Storage:       store.Attachments(),
		Feed:          store.Feed(),
		Verifier:      middleware.DevTokenVerifier{},
		Memory:        store,
	}, nil
}

func openFirestore(ctx context.Context, cfg *config.Config) (*Backend, error) {
	clients, err := firebase.Init(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b := &Backend{Name: BackendFirestore}
	b.closers = append(b.closers, clients.Close)

	profiles := repository.NewFirestoreProfileRepository(clients.Firestore)
	b.Profiles = profiles
	b.Conversations = repository.NewFirestoreConversationRepository(clients.Firestore, profiles)
	b.Messages = repository.NewFirestoreMessageRepository(clients.Firestore)
	b.Feed = realtime.NewFirestoreFeed(clients.Firestore, realtime.FeedConfig{})
	b.Verifier = clients.Auth

	if cfg.StorageBucket != "" {
		storageClient, err := storage.NewCloudStorageClient(ctx, cfg.StorageBucket, clients.Options()...)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, storageClient.Close)
		b.Storage = storageClient
	} else {
		logger.Warn("STORAGE_BUCKET is not set: messages with attachments will be rejected")
		b.Storage = disabledStorage{}
	}
	return b, nil
}
