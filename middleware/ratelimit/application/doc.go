// Package application contém os casos de uso (regras de aplicação) para o rate limit
// por janela de minuto e para o limite de chamadas em voo.
//
// Ele depende apenas do pacote domain e não conhece transporte.
// Ex.: Service.Decide(key, bucket) retorna uma Decision (allow/deny + retry-after).
package application
