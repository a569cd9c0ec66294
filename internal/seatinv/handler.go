package seatinv

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thanhphu2410/microservices-booking-app/pkg/response"
	"github.com/thanhphu2410/microservices-booking-app/pkg/telemetry"
)

// Handler exposes the seat inventory RPC surface over HTTP
type Handler struct {
	service *Service
}

// NewHandler creates the seat HTTP handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the seat routes on a router group
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/layout/:roomId", h.GetSeatLayout)
	r.POST("/layout/:roomId/seed", h.SeedLayout)
	r.GET("/status/:showtimeId", h.GetSeatStatus)
	r.POST("/hold", h.HoldSeats)
	r.POST("/book", h.BookSeats)
	r.POST("/release", h.ReleaseSeats)
}

type seedLayoutRequest struct {
	Rows       int     `json:"rows" binding:"required,min=1"`
	Cols       int     `json:"cols" binding:"required,min=1"`
	PriceRatio float64 `json:"priceRatio"`
}

type holdSeatsRequest struct {
	ShowtimeID          string   `json:"showtimeId" binding:"required"`
	SeatIDs             []string `json:"seatIds" binding:"required,min=1"`
	UserID              string   `json:"userId" binding:"required"`
	HoldDurationMinutes int      `json:"holdDurationMinutes"`
}

type bookSeatsRequest struct {
	ShowtimeID string   `json:"showtimeId" binding:"required"`
	SeatIDs    []string `json:"seatIds" binding:"required,min=1"`
	UserID     string   `json:"userId" binding:"required"`
	BookingID  string   `json:"bookingId" binding:"required"`
}

type releaseSeatsRequest struct {
	ShowtimeID string   `json:"showtimeId" binding:"required"`
	SeatIDs    []string `json:"seatIds" binding:"required,min=1"`
	UserID     string   `json:"userId" binding:"required"`
}

// GetSeatLayout returns the physical layout of a room
func (h *Handler) GetSeatLayout(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.GetSeatLayout")
	defer span.End()

	seats, err := h.service.GetSeatLayout(ctx, c.Param("roomId"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, seats)
}

// SeedLayout provisions the seat grid of a room
func (h *Handler) SeedLayout(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.SeedLayout")
	defer span.End()

	var req seedLayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	seats, err := h.service.SeedLayout(ctx, c.Param("roomId"), req.Rows, req.Cols, req.PriceRatio)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, seats)
}

// GetSeatStatus returns the tracked seat states of a showtime
func (h *Handler) GetSeatStatus(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.GetSeatStatus")
	defer span.End()

	statuses, err := h.service.GetSeatStatus(ctx, c.Param("showtimeId"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, statuses)
}

// HoldSeats attempts a time-bounded hold on the requested seats
func (h *Handler) HoldSeats(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.HoldSeats")
	defer span.End()

	var req holdSeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.HoldSeats(ctx, req.ShowtimeID, req.SeatIDs, req.UserID,
		time.Duration(req.HoldDurationMinutes)*time.Minute)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, result)
}

// BookSeats finalizes held seats for a confirmed booking
func (h *Handler) BookSeats(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.BookSeats")
	defer span.End()

	var req bookSeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.BookSeats(ctx, req.ShowtimeID, req.SeatIDs, req.UserID, req.BookingID)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, result)
}

// ReleaseSeats returns held seats to the available pool
func (h *Handler) ReleaseSeats(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.ReleaseSeats")
	defer span.End()

	var req releaseSeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.ReleaseSeats(ctx, req.ShowtimeID, req.SeatIDs, req.UserID)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, result)
}
