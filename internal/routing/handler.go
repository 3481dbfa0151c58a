package routing

import (
	"hookrelay/internal/config_handler"
	"hookrelay/internal/logger"
	"hookrelay/pkg/models"
)

type Handler = config_handler.Handler

func NewHandler(service *Service, log logger.Logger) *Handler {
	return config_handler.NewHandler(
		models.EventTypeRouteUpdated,
		models.ServiceTypeRouting,
		service,
		log,
	)
}
