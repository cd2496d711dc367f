// Package ratelimit fornece middlewares de transporte para o gateway do cliente:
// supressão de duplicatas, rate limit por janela de minuto e limite de chamadas em voo.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de transporte)
//   - application: casos de uso (decisão allow/deny, acquire não bloqueante)
//   - infra: implementações concretas (janelas em memória, set em voo, estatísticas)
//   - ratelimit (este pacote): middlewares transport.Middleware + extração de chave
//
// Fluxo no gateway:
//
//  1. Se a chamada tem chave de idempotência já em voo, vira no-op (nil, nil)
//  2. Extrai a chave do alvo (path) e pede a decisão para a janela do minuto
//  3. Se bloqueado, falha na hora com ErrRateLimited (sem fila)
//  4. Tenta entrar no set de chamadas em voo; cheio = ErrTooManyConcurrent (sem fila)
//  5. Se permitido, chama o próximo transport e libera a vaga ao terminar
package ratelimit
