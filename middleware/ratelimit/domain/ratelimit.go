package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de transporte.

import (
	"errors"
	"time"
)

// ErrRateLimited é devolvido quando o teto de chamadas do alvo no minuto corrente já foi atingido.
var ErrRateLimited = errors.New("rate limited")

// Key identifica o alvo limitado (normalmente o path do endpoint).
type Key string

// Bucket é o índice do minuto (unix seconds / 60).
type Bucket int64

// BucketOf calcula o bucket de minuto de um instante.
func BucketOf(t time.Time) Bucket { return Bucket(t.Unix() / 60) }

// Start devolve o início do bucket.
func (b Bucket) Start() time.Time { return time.Unix(int64(b)*60, 0) }

// WindowStore guarda contadores por (alvo, bucket).
//
// Increment faz check-and-set atômico: só incrementa se o contador ainda
// estiver abaixo do teto, e nunca o deixa passar dele. Chamadas acima do teto
// são rejeitadas, não enfileiradas.
type WindowStore interface {
	Increment(key Key, bucket Bucket, ceiling int) (count int, ok bool)
	// Refund devolve uma unidade de (key, bucket) cobrada por uma chamada que
	// não chegou a ser feita.
	Refund(key Key, bucket Bucket)
	// Prune descarta buckets com mais de 2 minutos de idade em relação a current.
	Prune(current Bucket) int
}

type Decision struct {
	Allowed bool
	Count   int
	Bucket  Bucket
	// RetryAfter é o tempo até o próximo bucket quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}
