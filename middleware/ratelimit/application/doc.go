// Package application contém os casos de uso do controle de admissão e do limite
// de concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http: a identidade do
// chamador chega como uma função (IdentityFunc) que a camada HTTP fornece.
// Ex.: Engine.Check(ctx, "chat", resolve) devolve um domain.Result.
package application
