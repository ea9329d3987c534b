// Package ratelimit fornece o adapter HTTP (net/http) para a admissão multi-tier
// de requisições ao serviço de IA.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (admit/undo, estatísticas, acesso ao serviço de IA) sem net/http
//   - infra: implementações concretas (ledger de janela deslizante, stores de estatística, semáforo)
//   - ratelimit (este pacote): middleware HTTP + extração de identidade + tradução para status/headers
//
// Fluxo no gateway:
//
//   1) Extrai a identidade do cliente (header/XFF/X-Real-IP/RemoteAddr, ou sentinela)
//   2) Chama a camada application para obter a decisão
//   3) Se bloqueado, responde 429 com retryAfter e conta um rate limit hit
//   4) Se permitido, chama o próximo handler com a Admission no contexto
//
// A contabilidade é local ao processo: várias instâncias em paralelo aplicam
// cotas independentes.
package ratelimit
