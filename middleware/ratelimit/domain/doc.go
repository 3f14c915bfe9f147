// Package domain define contratos e tipos de domínio do controle de admissão:
// políticas por endpoint, identidade do chamador, contadores e resultado da decisão.
//
// Este pacote não depende de net/http nem de implementações concretas (memória, Redis).
// Assim a regra de decisão pode ser testada de forma pura e as lojas de contadores
// trocadas sem tocar no restante do pipeline.
package domain
