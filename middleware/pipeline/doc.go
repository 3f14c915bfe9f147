// Package pipeline compõe, em ordem fixa, o controle de admissão, a
// autenticação, a checagem de papel e a checagem de assinatura em volta de um
// handler de negócio.
//
// Cada estágio interrompe a requisição na primeira falha. As respostas de erro
// usam o envelope {success:false, error:{code, message, details?}}.
package pipeline
