package container

import (
	"github.com/linkvault/syncd/cmd/syncd/repository"
	"github.com/linkvault/syncd/cmd/syncd/service"
	syncpkg "github.com/linkvault/syncd/cmd/syncd/sync"
	"github.com/linkvault/syncd/common/bootstrap"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Repositories
	OperationRepo *repository.OperationRepository
	SnapshotRepo  *repository.SnapshotRepository
	SyncStateRepo *repository.SyncStateRepository

	// Services
	OpLogService    *service.OpLogService
	SnapshotService *service.SnapshotService

	// Realtime
	Hub        *syncpkg.Hub
	Propagator *syncpkg.Propagator
	Subscriber *syncpkg.Subscriber
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	// Initialize repositories
	operationRepo := repository.NewOperationRepository(components.DB)
	snapshotRepo := repository.NewSnapshotRepository(components.DB)
	syncStateRepo := repository.NewSyncStateRepository(components.DB)

	// Realtime fan-out: accepted operations go through Redis PubSub so
	// every node delivers to its own connections
	hub := syncpkg.NewHub(components.Logger)
	propagator := syncpkg.NewPropagator(components.Redis)
	subscriber := syncpkg.NewSubscriber(components.Redis.GetUnderlying(), hub, components.Logger)

	// Initialize services (bottom-up: dependencies first)
	oplogService := service.NewOpLogService(operationRepo, propagator, components.Logger)
	snapshotService := service.NewSnapshotService(
		snapshotRepo,
		operationRepo,
		syncStateRepo,
		components.Redis,
		components.Config.Sync,
		components.Logger,
	)

	return &Container{
		Components:      components,
		OperationRepo:   operationRepo,
		SnapshotRepo:    snapshotRepo,
		SyncStateRepo:   syncStateRepo,
		OpLogService:    oplogService,
		SnapshotService: snapshotService,
		Hub:             hub,
		Propagator:      propagator,
		Subscriber:      subscriber,
	}, nil
}
