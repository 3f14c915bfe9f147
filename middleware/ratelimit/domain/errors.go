package domain

import "errors"

// Erros da loja distribuída. Cada um leva ao próximo degrau da escada de
// degradação; nenhum chega ao chamador HTTP.
var (
	ErrStoreUnavailable = errors.New("counter store unavailable")
	ErrStoreTimeout     = errors.New("counter store timeout")
	ErrScriptFailed     = errors.New("counter script execution failed")
)
