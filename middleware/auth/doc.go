// Package auth verifica credenciais assinadas (JWT HMAC) e as extrai da requisição.
//
// É consumido por dois lados: o resolvedor de identidade do rate limit (que só
// quer saber o "sub") e o pipeline (que monta a sessão com papel e conta).
// Nenhuma credencial é confiada sem verificar assinatura e expiração.
package auth
