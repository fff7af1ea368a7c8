package engine

import (
	"context"
	"fmt"
	"sync"

	"gridbot/internal/config"
	"gridbot/internal/exchange"
	"gridbot/internal/funds"
	"gridbot/internal/logger"
)

// Supervisor держит сетки одного аккаунта: общий portfolio-лок, общий
// ledger средств и по движку на каждую сконфигурированную пару.
type Supervisor struct {
	cfg    *config.Config
	client exchange.Client
	ledger *funds.Ledger
	log    *logger.Logger

	portfolio sync.Mutex

	mu      sync.Mutex
	engines map[string]*Engine
}

func NewSupervisor(cfg *config.Config, client exchange.Client, ledger *funds.Ledger, log *logger.Logger) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		client:  client,
		ledger:  ledger,
		log:     log,
		engines: map[string]*Engine{},
	}
}

func (s *Supervisor) Start(ctx context.Context) error {
	accountID := s.cfg.Exchange.AccountID
	for _, grid := range s.cfg.Grids {
		entry := s.log.WithSymbol(grid.Symbol).WithField("component", "supervisor")
		eng, err := New(grid, accountID, s.client, s.ledger, &s.portfolio, s.log)
		if err != nil {
			entry.WithError(err).Error("Ошибка конфигурации, пара пропущена.")
			continue
		}
		if err := eng.Start(ctx); err != nil {
			entry.WithError(err).Error("Не удалось запустить сетку, пара пропущена.")
			continue
		}
		s.mu.Lock()
		s.engines[grid.Symbol] = eng
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.engines) == 0 {
		return fmt.Errorf("нет ни одной валидной сетки")
	}
	s.log.WithAccount(accountID).WithField("component", "supervisor").WithField("grids", len(s.engines)).Info("Сетки запущены.")
	return nil
}

func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, eng := range s.engines {
		eng.Stop()
	}
	s.engines = map[string]*Engine{}
}

func (s *Supervisor) Engine(symbol string) (*Engine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eng, ok := s.engines[symbol]
	return eng, ok
}
