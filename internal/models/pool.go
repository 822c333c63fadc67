// Package models содержит доменные структуры биллинга: пулы кредитов,
// пользователя с балансами, неизменяемые транзакции журнала,
// события платёжного провайдера и уведомления.
package models

import "strings"

// Pool - вид кредитов, баланс которого учитывается независимо.
type Pool string

const (
	// PoolTestCase - кредиты на тест-кейсы.
	PoolTestCase Pool = "test_case"
	// PoolUserStory - кредиты на пользовательские истории.
	PoolUserStory Pool = "user_story"
)

// Pools - упорядоченный набор всех пулов. Любой код, работающий с балансами,
// обходит именно его, а не перечисляет пулы вручную.
var Pools = []Pool{PoolTestCase, PoolUserStory}

// ParsePool разбирает название пула без учёта регистра.
func ParsePool(s string) (Pool, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, p := range Pools {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// Balances хранит значение для каждого пула.
type Balances map[Pool]int

// NewBalances возвращает баланс с нулём в каждом пуле.
func NewBalances() Balances {
	b := make(Balances, len(Pools))
	for _, p := range Pools {
		b[p] = 0
	}
	return b
}

// Get возвращает значение пула (ноль для отсутствующего ключа).
func (b Balances) Get(p Pool) int {
	return b[p]
}

// Add прибавляет delta к пулу.
func (b Balances) Add(p Pool, delta int) {
	b[p] += delta
}

// Positive сообщает, есть ли хотя бы один пул с положительным значением.
func (b Balances) Positive() bool {
	for _, p := range Pools {
		if b[p] > 0 {
			return true
		}
	}
	return false
}

// Negative возвращает пулы с отрицательным значением в порядке Pools.
func (b Balances) Negative() []Pool {
	var out []Pool
	for _, p := range Pools {
		if b[p] < 0 {
			out = append(out, p)
		}
	}
	return out
}

// Clone возвращает независимую копию.
func (b Balances) Clone() Balances {
	c := make(Balances, len(b))
	for k, v := range b {
		c[k] = v
	}
	return c
}

// Label возвращает название пула для описаний транзакций ("test case").
func (p Pool) Label() string {
	return strings.ReplaceAll(string(p), "_", " ")
}
