// Package ratelimit fornece o controle de admissão sobre net/http.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos (política, identidade, contador, resultado), sem net/http
//   - application: casos de uso (tabela de políticas, Engine.Check, ConcurrencyService)
//   - infra: lojas concretas (memória, Redis com escada de degradação, seletor, stats)
//   - ratelimit (este pacote): resolução de identidade, middleware HTTP, headers de cota e 429
//
// Fluxo de uma checagem:
//
//  1. Busca a política do endpoint (ou a "default")
//  2. Resolve a identidade na dimensão da política (token verificado, IP ou global)
//  3. Chama a loja de contadores configurada (memória, Redis ou auto)
//  4. Se negado, responde 429 com X-RateLimit-* e retryAfter no corpo
//  5. Se permitido, segue para o próximo handler com os headers de cota já definidos
//
// O pipeline completo (auth, papéis, assinatura) fica em middleware/pipeline.
package ratelimit
