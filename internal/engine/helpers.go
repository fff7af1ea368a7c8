package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gridbot/internal/exchange"
	"gridbot/internal/models"
)

func (e *Engine) withRetryRules(ctx context.Context, symbol string) (exchange.InstrumentRules, error) {
	var lastErr error
	var backoff time.Duration = 1 * time.Second
	for i := 0; i < 5; i++ {
		rules, err := e.client.GetInstrumentRules(ctx, symbol)
		if err == nil {
			return rules, nil
		}
		lastErr = err
		wait := time.Duration(math.Min(float64(backoff), float64(backoff*30)))
		if isRateLimitError(err) {
			wait = time.Duration(math.Min(float64(backoff*4), float64(backoff*30)))
		}
		e.logEntry().WithError(lastErr).Warn("Ошибка, повторяем запрос.")
		select {
		case <-ctx.Done():
			return exchange.InstrumentRules{}, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return exchange.InstrumentRules{}, lastErr
}

func (e *Engine) withRetryPlace(ctx context.Context, order models.Order) (models.Order, error) {
	var lastErr error
	var backoff time.Duration = 1 * time.Second
	for i := 0; i < 3; i++ {
		placed, err := e.client.PlaceOrder(ctx, order)
		if err == nil {
			return placed, nil
		}
		lastErr = err
		wait := time.Duration(math.Min(float64(backoff), float64(backoff*30)))
		if isRateLimitError(err) {
			wait = time.Duration(math.Min(float64(backoff*4), float64(backoff*30)))
		}
		e.logEntry().WithError(lastErr).Warn("Ошибка постановки, повторяем запрос.")
		select {
		case <-ctx.Done():
			return models.Order{}, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return models.Order{}, lastErr
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "10006") || strings.Contains(msg, "Too many visits!")
}

var linkSeq atomic.Int64

func (e *Engine) nextLinkID() string {
	return fmt.Sprintf("%s-%d", e.sessionID, linkSeq.Add(1))
}

func newSessionID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	if len(raw) > 12 {
		return raw[:12]
	}
	return raw
}

func oppositeSide(side models.OrderSide) models.OrderSide {
	if side == models.OrderSideBuy {
		return models.OrderSideSell
	}
	return models.OrderSideBuy
}
