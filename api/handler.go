package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"papertrade/internal/application/service"
	"papertrade/internal/domain"
)

// orderRequest is the POST /orders body. Price is optional: when omitted the
// order fills at the last seen price of the slot showing the symbol.
type orderRequest struct {
	Symbol   string  `json:"symbol" binding:"required"`
	Side     string  `json:"side" binding:"required,oneof=buy sell"`
	Quantity float64 `json:"quantity" binding:"required,gt=0"`
	Price    float64 `json:"price" binding:"omitempty,gt=0"`
}

type balanceRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

type instrumentRequest struct {
	Symbol   string `json:"symbol" binding:"required"`
	Interval string `json:"interval" binding:"required"`
}

type backfillRequest struct {
	Count int `json:"count" binding:"omitempty,gt=0,lte=1000"`
}

// slotView is the per-slot summary of GET /slots.
type slotView struct {
	Slot     int                     `json:"slot"`
	Symbol   string                  `json:"symbol"`
	Interval string                  `json:"interval"`
	Status   domain.ConnectionStatus `json:"status"`
	Active   bool                    `json:"active"`
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetPortfolio handles GET /portfolio.
func (h *Handler) GetPortfolio(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Portfolio())
}

// GetOrders handles GET /orders.
func (h *Handler) GetOrders(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Orders())
}

// GetTrades handles GET /trades.
func (h *Handler) GetTrades(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Trades())
}

// PlaceOrder handles POST /orders. The order fills synchronously: the
// response already reflects the mutated portfolio.
func (h *Handler) PlaceOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleValidationError(c, err)
		return
	}
	symbol, err := h.validator.ValidateSymbol(req.Symbol)
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	price := req.Price
	if price <= 0 {
		price = h.lastPrice(symbol)
		if price <= 0 {
			h.handleValidationError(c, errors.New("price is required when the symbol has no live ticker"))
			return
		}
	}

	order, err := h.trader.ExecuteOrder(symbol, domain.Side(req.Side), req.Quantity, price)
	if err != nil {
		h.handleOrderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// ClosePosition handles POST /positions/:symbol/close.
func (h *Handler) ClosePosition(c *gin.Context) {
	symbol, err := h.validator.ValidateSymbol(c.Param("symbol"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	order, err := h.trader.ClosePosition(symbol)
	if err != nil {
		h.handleOrderError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// SetBalance handles POST /balance. Open positions are untouched; equity is
// recomputed around the new cash level.
func (h *Handler) SetBalance(c *gin.Context) {
	var req balanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleValidationError(c, err)
		return
	}
	if err := h.trader.SetBalance(req.Amount); err != nil {
		h.handleOrderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.store.Portfolio())
}

// GetSlots handles GET /slots.
func (h *Handler) GetSlots(c *gin.Context) {
	active := h.store.ActiveSlot()
	views := make([]slotView, h.store.SlotCount())
	for i := range views {
		symbol, interval := h.store.SlotInstrument(i)
		views[i] = slotView{
			Slot:     i,
			Symbol:   symbol,
			Interval: interval.Name,
			Status:   h.store.Status(i),
			Active:   i == active,
		}
	}
	c.JSON(http.StatusOK, views)
}

// GetCandles handles GET /slots/:id/candles?limit=N. With a limit only the
// newest N candles are returned.
func (h *Handler) GetCandles(c *gin.Context) {
	slot, err := h.validator.ValidateSlotID(c.Param("id"), h.store.SlotCount())
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	limit, err := h.validator.ValidateLimit(c.Query("limit"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	candles := h.store.Candles(slot)
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	c.JSON(http.StatusOK, candles)
}

// GetTicker handles GET /slots/:id/ticker.
func (h *Handler) GetTicker(c *gin.Context) {
	slot, err := h.validator.ValidateSlotID(c.Param("id"), h.store.SlotCount())
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ticker": h.store.Ticker(slot),
		"status": h.store.Status(slot),
	})
}

// SetInstrument handles POST /slots/:id/instrument. The slot's previous
// session is stopped before the new one starts.
func (h *Handler) SetInstrument(c *gin.Context) {
	slot, err := h.validator.ValidateSlotID(c.Param("id"), h.store.SlotCount())
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	var req instrumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleValidationError(c, err)
		return
	}
	symbol, err := h.validator.ValidateSymbol(req.Symbol)
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	if err := h.slots.SetInstrument(context.WithoutCancel(c.Request.Context()), slot, symbol, req.Interval); err != nil {
		h.handleError(c, err, http.StatusBadRequest, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// ActivateSlot handles POST /slots/:id/activate. The slot's session already
// runs in the background, so this is a pure state change.
func (h *Handler) ActivateSlot(c *gin.Context) {
	slot, err := h.validator.ValidateSlotID(c.Param("id"), h.store.SlotCount())
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	h.slots.SetActive(slot)
	c.Status(http.StatusNoContent)
}

// BackfillSlot handles POST /slots/:id/backfill.
func (h *Handler) BackfillSlot(c *gin.Context) {
	slot, err := h.validator.ValidateSlotID(c.Param("id"), h.store.SlotCount())
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	var req backfillRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.handleValidationError(c, err)
		return
	}
	if req.Count <= 0 {
		req.Count = 300
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	if err := h.slots.Backfill(ctx, slot, req.Count); err != nil {
		h.handleError(c, err, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": len(h.store.Candles(slot))})
}

// lastPrice finds the freshest ticker price any slot has for the symbol.
func (h *Handler) lastPrice(symbol string) float64 {
	for i := 0; i < h.store.SlotCount(); i++ {
		if s, _ := h.store.SlotInstrument(i); s == symbol {
			if t := h.store.Ticker(i); t.Price > 0 {
				return t.Price
			}
		}
	}
	return 0
}

// handleOrderError maps ledger rejections to status codes.
func (h *Handler) handleOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNoPosition):
		h.handleError(c, err, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInsufficientFunds):
		h.handleError(c, err, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrInvalidQuantity), errors.Is(err, service.ErrInvalidPrice):
		h.handleError(c, err, http.StatusBadRequest, err.Error())
	default:
		h.handleError(c, err, http.StatusBadRequest, err.Error())
	}
}

// handleError logs the error and sends the JSON error response.
func (h *Handler) handleError(c *gin.Context, err error, statusCode int, userMessage string) {
	requestID := c.GetString(requestIDContextKey)
	h.log.Error().
		Str("request_id", requestID).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", statusCode).
		Err(err).
		Msg("request failed")
	c.JSON(statusCode, gin.H{
		"error":      userMessage,
		"request_id": requestID,
	})
}

func (h *Handler) handleValidationError(c *gin.Context, err error) {
	h.handleError(c, err, http.StatusBadRequest, err.Error())
}
