// Package infra contém as implementações concretas dos contratos do pacote domain.
//
// Exemplos:
//   - MemoryCounterStore: janela fixa em memória, por processo, com limpeza periódica
//   - RedisCounterStore: janela deslizante atômica (script Lua) com escada de degradação
//   - SelectorStore: escolhe memória/Redis por chamada (memory | redis | auto)
//   - Stats: estatísticas de decisão em memória, Redis ou Prometheus
//   - ChanPool: semáforo simples para o limite de concorrência
package infra
