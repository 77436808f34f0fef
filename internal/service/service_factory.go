package service

import (
	"github.com/Shpigford/dutch-auction/internal/config"
	"github.com/Shpigford/dutch-auction/internal/encryption"
	"github.com/Shpigford/dutch-auction/internal/events"
	"github.com/Shpigford/dutch-auction/internal/pricing"
	"github.com/Shpigford/dutch-auction/internal/ratelimit"
	"github.com/Shpigford/dutch-auction/internal/repository/scylla"
)

// ServiceFactory creates and caches service instances.
type ServiceFactory struct {
	saleRepo      scylla.SaleRepositoryInterface
	notifRepo     scylla.NotificationRepositoryInterface
	pricingEngine *pricing.Engine
	payments      PaymentGateway
	mailer        EmailSender
	dedupe        EventDeduper
	encryptionMgr *encryption.Manager
	limiter       ratelimit.Limiter
	publisher     events.Publisher
	config        *config.Config

	saleService         *SaleService
	notificationService *NotificationService
	dispatchService     *DispatchService
}

func NewServiceFactory(
	saleRepo scylla.SaleRepositoryInterface,
	notifRepo scylla.NotificationRepositoryInterface,
	pricingEngine *pricing.Engine,
	payments PaymentGateway,
	mailer EmailSender,
	dedupe EventDeduper,
	encryptionMgr *encryption.Manager,
	limiter ratelimit.Limiter,
	publisher events.Publisher,
	cfg *config.Config,
) *ServiceFactory {
	return &ServiceFactory{
		saleRepo:      saleRepo,
		notifRepo:     notifRepo,
		pricingEngine: pricingEngine,
		payments:      payments,
		mailer:        mailer,
		dedupe:        dedupe,
		encryptionMgr: encryptionMgr,
		limiter:       limiter,
		publisher:     publisher,
		config:        cfg,
	}
}

func (f *ServiceFactory) SaleService() *SaleService {
	if f.saleService == nil {
		f.saleService = NewSaleService(
			f.saleRepo, f.pricingEngine, f.payments, f.dedupe, f.publisher, f.config)
	}
	return f.saleService
}

func (f *ServiceFactory) NotificationService() *NotificationService {
	if f.notificationService == nil {
		f.notificationService = NewNotificationService(
			f.notifRepo, f.saleRepo, f.pricingEngine, f.encryptionMgr,
			f.limiter, f.publisher, f.config)
	}
	return f.notificationService
}

func (f *ServiceFactory) DispatchService() *DispatchService {
	if f.dispatchService == nil {
		f.dispatchService = NewDispatchService(
			f.notifRepo, f.pricingEngine, f.mailer, f.encryptionMgr,
			f.publisher, f.config)
	}
	return f.dispatchService
}
