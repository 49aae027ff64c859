package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/kalamkaar/api/internal/domain"
	"github.com/kalamkaar/api/internal/platform/config"
	"github.com/kalamkaar/api/internal/repositories"
	"github.com/kalamkaar/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart          services.CartService
	Coupons       services.CouponService
	Summary       services.SummaryService
	Checkout      services.CheckoutService
	Orders        services.OrderService
	Assets        services.AssetService
	System        services.SystemService
	Notifications services.NotificationService
}

// Deps carries collaborators constructed outside the repository registry:
// the payment gateway, webhook verification, the order event publisher,
// and the shared structured logger.
type Deps struct {
	Gateway          services.PaymentGateway
	Webhooks         services.WebhookVerifier
	WebhookVerifiers map[string]services.WebhookVerifier
	Events           services.OrderEventPublisher
	GatewayKey       string
	Build            services.BuildInfo
	Logger           func(context.Context, string, map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Deps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps Deps) (Services, error) {
	var svc Services

	schedule := domain.PricingSchedule{
		Default: domain.UnitSurchargeSchedule{
			TwoUnitSurcharge:  cfg.Charges.TwoUnitSurcharge,
			PerAdditionalUnit: cfg.Charges.PerAdditionalUnit,
		},
	}
	if len(cfg.Charges.TierSurcharges) > 0 {
		schedule.Tiers = make(map[string]domain.UnitSurchargeSchedule, len(cfg.Charges.TierSurcharges))
		for tier, rates := range cfg.Charges.TierSurcharges {
			schedule.Tiers[tier] = domain.UnitSurchargeSchedule{
				TwoUnitSurcharge:  rates.TwoUnitSurcharge,
				PerAdditionalUnit: rates.PerAdditionalUnit,
			}
		}
	}
	baseline := domain.ChargeBaseline{
		DeliveryCharge:  cfg.Charges.DeliveryCharge,
		PackagingCharge: cfg.Charges.PackagingCharge,
	}

	cartsRepo := reg.Carts()
	sessionsRepo := reg.SessionCarts()
	if cartsRepo != nil && sessionsRepo != nil {
		cartSvc, err := services.NewCartService(services.CartServiceDeps{
			Accounts:        cartsRepo,
			Sessions:        sessionsRepo,
			UnitOfWork:      reg,
			Schedule:        schedule,
			Clock:           time.Now,
			DefaultCurrency: cfg.Charges.Currency,
			Logger:          deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build cart service: %w", err)
		}
		svc.Cart = cartSvc
	}

	couponsRepo := reg.Coupons()
	if cartsRepo != nil && sessionsRepo != nil {
		summarySvc, err := services.NewSummaryService(services.SummaryServiceDeps{
			Accounts: cartsRepo,
			Sessions: sessionsRepo,
			Coupons:  couponsRepo,
			Baseline: baseline,
			Clock:    time.Now,
			Logger:   deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build summary service: %w", err)
		}
		svc.Summary = summarySvc
	}

	if couponsRepo != nil && cartsRepo != nil && sessionsRepo != nil && cfg.Features.EnableCoupons {
		couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
			Coupons:    couponsRepo,
			Accounts:   cartsRepo,
			Sessions:   sessionsRepo,
			Summarizer: svc.Summary,
			Clock:      time.Now,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build coupon service: %w", err)
		}
		svc.Coupons = couponSvc
	}

	if cfg.Email.Endpoint != "" && cfg.Features.EnableOrderEmail {
		notifySvc, err := services.NewNotificationService(services.NotificationServiceDeps{
			Endpoint:  cfg.Email.Endpoint,
			AuthToken: cfg.Email.AuthToken,
			FromName:  cfg.Email.FromName,
			Logger:    deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build notification service: %w", err)
		}
		svc.Notifications = notifySvc
	}

	ordersRepo := reg.Orders()
	if ordersRepo != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders: ordersRepo,
			Clock:  time.Now,
			Logger: deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if ordersRepo != nil && svc.Cart != nil && svc.Summary != nil && deps.Gateway != nil {
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Carts:            svc.Cart,
			Summarizer:       svc.Summary,
			Orders:           ordersRepo,
			Gateway:          deps.Gateway,
			Webhooks:         deps.Webhooks,
			WebhookVerifiers: deps.WebhookVerifiers,
			Notifier:         svc.Notifications,
			Events:           deps.Events,
			Clock:            time.Now,
			Country:          cfg.Charges.Country,
			GatewayKey:       deps.GatewayKey,
			Logger:           deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	if assetsRepo := reg.Assets(); assetsRepo != nil {
		assetSvc, err := services.NewAssetService(services.AssetServiceDeps{
			Repository: assetsRepo,
			Clock:      time.Now,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build asset service: %w", err)
		}
		svc.Assets = assetSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := deps.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = time.Now().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
