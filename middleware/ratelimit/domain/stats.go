package domain

import (
	"context"
	"time"
)

// Motivos de decisão registrados nas estatísticas.
const (
	ReasonAllowed     = "allowed"
	ReasonRateLimited = "rate_limited"
	ReasonConcurrency = "too_many_concurrent"
	ReasonDuplicate   = "duplicate"
	ReasonDestroyed   = "destroyed"
)

// StatsEvent representa um evento de decisão do gateway.
//
// Observação: cuidado com cardinalidade (ex.: salvar Key/Path sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Key     Key
	Allowed bool
	Reason  string

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do gateway.
//
// Implementações podem armazenar em Redis, memória, etc.
// O gateway trata erro como best-effort (não derruba a chamada).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
