package filtering

import (
	"hookrelay/internal/config_handler"
	"hookrelay/internal/logger"
	"hookrelay/pkg/models"
)

type Handler = config_handler.Handler

func NewHandler(service *Service, log logger.Logger) *Handler {
	return config_handler.NewHandler(
		models.EventTypeFilterUpdated,
		models.ServiceTypeFiltering,
		service,
		log,
	)
}
