package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"papertrade/internal/domain"
	"papertrade/internal/state"
)

// The API package is split by concern:
// - api.go: handler wiring, routes, server management
// - handler.go: HTTP request handlers
// - middleware.go: request-id, logging, recovery, CORS
// - validator.go: request validation

const (
	requestTimeout      = 10 * time.Second
	serviceName         = "papertrade"
	requestIDContextKey = "request_id"
	requestIDHeaderKey  = "X-Request-ID"
)

// Trader accepts order intents. Satisfied by service.Ledger.
type Trader interface {
	ExecuteOrder(symbol string, side domain.Side, quantity, price float64) (domain.Order, error)
	ClosePosition(symbol string) (domain.Order, error)
	SetBalance(amount float64) error
}

// SlotControl drives the chart slots. Satisfied by service.SlotManager.
type SlotControl interface {
	SetInstrument(ctx context.Context, slot int, symbol, interval string) error
	SetActive(slot int)
	Backfill(ctx context.Context, slot, count int) error
}

// Handler serves account, market-data and slot-control endpoints over the
// shared state store.
type Handler struct {
	store     *state.Store
	trader    Trader
	slots     SlotControl
	validator *Validator
	log       zerolog.Logger
}

// NewHandler creates the API handler.
func NewHandler(store *state.Store, trader Trader, slots SlotControl) *Handler {
	return &Handler{
		store:     store,
		trader:    trader,
		slots:     slots,
		validator: NewValidator(),
		log:       log.With().Str("component", "api").Logger(),
	}
}

// Run starts the HTTP server on the given port and blocks.
func (h *Handler) Run(port int) error {
	return h.SetupRoutes().Run(":" + strconv.Itoa(port))
}

// SetupRoutes configures the router with middleware and all endpoints.
func (h *Handler) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware(h.log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", h.HealthCheck)

	router.GET("/portfolio", h.GetPortfolio)
	router.GET("/orders", h.GetOrders)
	router.GET("/trades", h.GetTrades)
	router.POST("/orders", h.PlaceOrder)
	router.POST("/positions/:symbol/close", h.ClosePosition)
	router.POST("/balance", h.SetBalance)

	router.GET("/slots", h.GetSlots)
	router.GET("/slots/:id/candles", h.GetCandles)
	router.GET("/slots/:id/ticker", h.GetTicker)
	router.POST("/slots/:id/instrument", h.SetInstrument)
	router.POST("/slots/:id/activate", h.ActivateSlot)
	router.POST("/slots/:id/backfill", h.BackfillSlot)

	return router
}
