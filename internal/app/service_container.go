// Package app wires repositories, clients and services together.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"grit-backend/internal/clients"
	"grit-backend/internal/config"
	"grit-backend/internal/db"
	"grit-backend/internal/events"
	"grit-backend/internal/repository"
	"grit-backend/internal/services"
)

// ServiceContainer holds every wired component of the process.
type ServiceContainer struct {
	DB *gorm.DB

	// Repositories
	ScarRepo       repository.ScarRepository
	StakeRepo      repository.StakeRepository
	AttributeRepo  repository.AttributeRepository
	WithdrawalRepo repository.WithdrawalRepository
	BridgeRepo     repository.BridgeRepository
	CurveRepo      repository.CurveRepository

	// Clients
	SourceClient clients.SourceLedgerClient
	DestClient   clients.DestinationLedgerClient
	Publisher    *events.Publisher

	// Services
	MarketService    *services.MarketService
	GovernorService  *services.WithdrawGovernorService
	AttributeService *services.AttributeService
	RelayService     *services.RelayService
}

// Container is the global instance, built once at startup.
var Container *ServiceContainer
var containerOnce sync.Once

// InitializeContainer builds the container from the loaded config.
func InitializeContainer(ctx context.Context) (*ServiceContainer, error) {
	var initErr error

	containerOnce.Do(func() {
		cfg := config.AppConfig
		if cfg == nil {
			initErr = fmt.Errorf("configuration not loaded")
			return
		}

		c := &ServiceContainer{DB: db.DB}

		c.ScarRepo = repository.NewScarRepository(c.DB)
		c.StakeRepo = repository.NewStakeRepository(c.DB)
		c.AttributeRepo = repository.NewAttributeRepository(c.DB)
		c.WithdrawalRepo = repository.NewWithdrawalRepository(c.DB)
		c.BridgeRepo = repository.NewBridgeRepository(c.DB)
		c.CurveRepo = repository.NewCurveRepository(c.DB)

		if cfg.NATS.URL != "" {
			publisher, err := events.NewPublisher(cfg.NATS)
			if err != nil {
				// events are best-effort; the protocol runs without them
				logrus.WithError(err).Warn("NATS unavailable, events disabled")
			} else {
				c.Publisher = publisher
			}
		}

		market, err := services.NewMarketService(ctx, cfg.Curve, c.CurveRepo)
		if err != nil {
			initErr = fmt.Errorf("market service: %w", err)
			return
		}
		c.MarketService = market

		c.GovernorService = services.NewWithdrawGovernorService(
			cfg.Treasury, c.ScarRepo, c.StakeRepo, c.WithdrawalRepo)
		c.GovernorService.SetPublisher(c.Publisher)

		c.AttributeService = services.NewAttributeService(
			cfg.Access, c.ScarRepo, c.StakeRepo, c.AttributeRepo)
		c.AttributeService.SetPublisher(c.Publisher)

		if cfg.SourceChain.RPCURL != "" && cfg.SourceChain.TreasuryPubkey != "" {
			source := clients.NewSolanaClient(
				cfg.SourceChain.RPCURL, cfg.SourceChain.WSURL, cfg.SourceChain.Commitment)
			c.SourceClient = source
			c.GovernorService.SetSourceClient(source, cfg.SourceChain.TreasuryPubkey)
		}

		if cfg.DestChain.RPCURL != "" && cfg.DestChain.PrivateKey != "" {
			dest, err := clients.NewEVMClient(cfg.DestChain)
			if err != nil {
				initErr = fmt.Errorf("destination client: %w", err)
				return
			}
			c.DestClient = dest
		}

		if c.SourceClient != nil && c.DestClient != nil {
			c.RelayService = services.NewRelayService(
				cfg.Relay, cfg.SourceChain, c.SourceClient, c.DestClient, c.BridgeRepo)
			c.RelayService.SetPublisher(c.Publisher)
			if cfg.Relay.PricingMode == "curve" {
				c.RelayService.SetMarketService(c.MarketService)
			}
		} else {
			logrus.Warn("bridge relay disabled: source or destination chain not configured")
		}

		Container = c
		logrus.Info("service container initialized")
	})

	if initErr != nil {
		return nil, initErr
	}
	return Container, nil
}

// Shutdown releases external connections.
func (c *ServiceContainer) Shutdown() {
	if c.RelayService != nil {
		c.RelayService.Stop()
	}
	c.Publisher.Close()
}
