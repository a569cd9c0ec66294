package seatinv

import (
	"context"
	"encoding/json"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/thanhphu2410/microservices-booking-app/internal/saga"
	"github.com/thanhphu2410/microservices-booking-app/pkg/kafka"
	"github.com/thanhphu2410/microservices-booking-app/pkg/logger"
)

// ConsumerTopics lists the orchestrator commands the seat service consumes
func ConsumerTopics() []string {
	return []string{
		saga.TopicBookingConfirmed,
		saga.TopicBookingCanceled,
	}
}

// Consumer applies orchestrator commands to the seat inventory:
// booking_confirmed finalizes held seats and reports back, and
// booking_canceled releases them best-effort.
type Consumer struct {
	consumer  *kafka.Consumer
	service   *Service
	publisher Publisher
}

// NewConsumer creates the seat command consumer
func NewConsumer(consumer *kafka.Consumer, service *Service, publisher Publisher) *Consumer {
	return &Consumer{
		consumer:  consumer,
		service:   service,
		publisher: publisher,
	}
}

// Run consumes until ctx is canceled
func (c *Consumer) Run(ctx context.Context) error {
	log := logger.Get()
	log.Info("seat command consumer started")

	for {
		records, err := c.consumer.Poll(ctx)
		if ctx.Err() != nil {
			log.Info("seat command consumer stopped")
			return ctx.Err()
		}
		if err != nil {
			log.Error("poll failed", zap.Error(err))
			continue
		}

		for _, record := range records {
			c.process(ctx, record)
			if err := c.consumer.CommitRecords(ctx, record); err != nil {
				log.Error("offset commit failed",
					zap.String("topic", record.Topic), zap.Error(err))
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, record *kgo.Record) {
	switch record.Topic {
	case saga.TopicBookingConfirmed:
		c.handleBookingConfirmed(ctx, record.Value)
	case saga.TopicBookingCanceled:
		c.handleBookingCanceled(ctx, record.Value)
	default:
		logger.Get().Warn("unexpected topic, dropping",
			zap.String("topic", record.Topic))
	}
}

// handleBookingConfirmed finalizes the held seats and replies with
// saga_seat_confirmed carrying the outcome
func (c *Consumer) handleBookingConfirmed(ctx context.Context, raw []byte) {
	log := logger.Get()

	var command saga.BookingConfirmedCommand
	if err := json.Unmarshal(raw, &command); err != nil {
		log.Error("malformed booking_confirmed command, dropping", zap.Error(err))
		return
	}

	reply := saga.SeatConfirmedEvent{
		BookingID:  command.BookingID,
		SagaID:     command.SagaID,
		SeatIDs:    command.SeatIDs,
		ShowtimeID: command.ShowtimeID,
		UserID:     command.UserID,
	}

	result, err := c.service.BookSeats(ctx, command.ShowtimeID, command.SeatIDs, command.UserID, command.BookingID)
	if err != nil {
		log.Error("seat finalization failed",
			zap.String("booking_id", command.BookingID),
			zap.Error(err))
		reply.Success = false
		reply.Reason = err.Error()
	} else {
		reply.Success = result.Success
		if !result.Success {
			reply.Reason = "some seats could not be finalized"
		}
	}

	if err := c.publisher.Publish(ctx, string(saga.EventSeatConfirmed), command.SagaID, reply); err != nil {
		log.Error("failed to emit seat confirmed reply",
			zap.String("saga_id", command.SagaID),
			zap.Error(err))
	}
}

// handleBookingCanceled releases the seats named in the command. The
// notification-oriented variant of this command carries no seat ids and
// is skipped. Failures are logged only; release is compensating cleanup
// and the hold expiry bounds any leftover.
func (c *Consumer) handleBookingCanceled(ctx context.Context, raw []byte) {
	log := logger.Get()

	var command saga.BookingCanceledCommand
	if err := json.Unmarshal(raw, &command); err != nil {
		log.Error("malformed booking_canceled command, dropping", zap.Error(err))
		return
	}
	if len(command.SeatIDs) == 0 {
		return
	}

	result, err := c.service.ReleaseSeats(ctx, command.ShowtimeID, command.SeatIDs, command.UserID)
	if err != nil {
		log.Error("seat release failed",
			zap.String("booking_id", command.BookingID),
			zap.Error(err))
		return
	}

	log.Info("seats released for canceled booking",
		zap.String("booking_id", command.BookingID),
		zap.Strings("released", result.SeatIDs),
		zap.Strings("failed", result.FailedSeatIDs))
}
