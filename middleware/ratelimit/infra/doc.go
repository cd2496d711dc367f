// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - WindowStore: contadores por (alvo, minuto) em memória, com poda dos buckets velhos
//   - InFlight: set de chamadas em voo com capacidade máxima
//   - MemoryStatsStore / RedisStatsStore: estatísticas de decisão
package infra
