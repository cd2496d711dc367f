// Package domain define contratos e tipos de domínio para o rate limit por janela
// de minuto e para o limite de chamadas em voo do gateway do cliente.
//
// Este pacote não depende de transporte (HTTP) nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar as regras
// de detalhes de infraestrutura.
package domain
