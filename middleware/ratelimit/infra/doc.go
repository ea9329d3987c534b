// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - Ledger: janela deslizante multi-tier por identidade, com sweep e janitor
//   - MemoryStatsStore: estatísticas de uso autoritativas do processo
//   - RedisStatsStore / PrometheusStatsStore: espelhos best-effort das estatísticas
//   - UpstreamSlots (NewChanPool) + NewPacer: semáforo e token bucket (x/time/rate) para chamadas ao serviço de IA
//   - SystemClock / ManualClock: relógios de produção e de teste
package infra
