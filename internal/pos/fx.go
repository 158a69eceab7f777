package pos

import (
	"net/http"
	"time"

	"github.com/posbridge/posbridge/internal/config"
	"github.com/posbridge/posbridge/internal/pos/adapters/clover"
	"github.com/posbridge/posbridge/internal/pos/adapters/square"
	"github.com/posbridge/posbridge/internal/pos/adapters/toast"
	"github.com/posbridge/posbridge/internal/pos/domain"
	"go.uber.org/fx"
)

func NewRegistryFromConfig(cfg config.Config) *Registry {
	client := &http.Client{Timeout: 15 * time.Second}

	adapters := []domain.Adapter{
		square.New(square.Config{
			WebhookSecret:   cfg.Providers.Square.WebhookSecret,
			NotificationURL: cfg.Providers.Square.NotificationURL,
			BaseURL:         cfg.Providers.Square.BaseURL,
			AccessToken:     cfg.Providers.Square.AccessToken,
		}, client),
		clover.New(clover.Config{
			WebhookSecret: cfg.Providers.Clover.WebhookSecret,
			BaseURL:       cfg.Providers.Clover.BaseURL,
			AccessToken:   cfg.Providers.Clover.AccessToken,
		}, client),
		toast.New(toast.Config{
			WebhookSecret: cfg.Providers.Toast.WebhookSecret,
			BaseURL:       cfg.Providers.Toast.BaseURL,
			AccessToken:   cfg.Providers.Toast.AccessToken,
		}, client),
	}

	return NewRegistry(adapters...)
}

var Module = fx.Module("pos",
	fx.Provide(NewRegistryFromConfig),
)
