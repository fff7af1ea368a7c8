package funds

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger — общий счётчик свободных средств аккаунта по валютам. Несколько
// сеток, работающих на одном аккаунте, списывают средства через него, а не
// через сырой запрос баланса: баланс — снимок, ledger — точка синхронизации.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*accountFunds
}

type accountFunds struct {
	mu        sync.Mutex
	available map[string]decimal.Decimal
	owners    map[string]int
}

func NewLedger() *Ledger {
	return &Ledger{accounts: map[string]*accountFunds{}}
}

func (l *Ledger) account(accountID string) *accountFunds {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[accountID]
	if !ok {
		acc = &accountFunds{
			available: map[string]decimal.Decimal{},
			owners:    map[string]int{},
		}
		l.accounts[accountID] = acc
	}
	return acc
}

// Reserve фиксирует наблюдаемый свободный баланс валюты при первой успешной
// постройке сетки. Повторный вызов для уже инициализированной валюты только
// регистрирует ещё одного владельца, сумма не меняется.
func (l *Ledger) Reserve(accountID, coin string, amount decimal.Decimal) {
	acc := l.account(accountID)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	if _, ok := acc.available[coin]; !ok {
		acc.available[coin] = amount
	}
	acc.owners[coin]++
}

func (l *Ledger) IsInitialized(accountID, coin string) bool {
	acc := l.account(accountID)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	_, ok := acc.available[coin]
	return ok
}

func (l *Ledger) Available(accountID, coin string) decimal.Decimal {
	acc := l.account(accountID)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.available[coin]
}

// Consume списывает средства под создаваемый ордер. При нехватке ничего не
// меняет и возвращает ошибку: вызывающая сетка обязана ужать объёмы до
// Available, а не переспать лимит.
func (l *Ledger) Consume(accountID, coin string, amount decimal.Decimal) error {
	acc := l.account(accountID)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	avail, ok := acc.available[coin]
	if !ok {
		return fmt.Errorf("валюта %s не инициализирована в ledger", coin)
	}
	if amount.GreaterThan(avail) {
		return fmt.Errorf("недостаточно средств в ledger: нужно %s %s, осталось %s", amount, coin, avail)
	}
	acc.available[coin] = avail.Sub(amount)
	return nil
}

// Refund возвращает средства после отмены или неудачной постановки ордера.
func (l *Ledger) Refund(accountID, coin string, amount decimal.Decimal) {
	acc := l.account(accountID)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	if avail, ok := acc.available[coin]; ok {
		acc.available[coin] = avail.Add(amount)
	}
}

// Release снимает владельца валюты при остановке сетки. Запись удаляется,
// когда валюту больше никто не использует.
func (l *Ledger) Release(accountID, coin string) {
	acc := l.account(accountID)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	if acc.owners[coin] > 0 {
		acc.owners[coin]--
	}
	if acc.owners[coin] == 0 {
		delete(acc.available, coin)
		delete(acc.owners, coin)
	}
}
