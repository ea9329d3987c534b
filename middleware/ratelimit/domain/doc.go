// Package domain define contratos e tipos de domínio para admissão (rate limit
// multi-tier), estatísticas de uso e concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura.
package domain
