// Package conversation implements the Biotecza conversation state machine, the
// order aggregation it drives and the dispatcher that applies its decisions.
package conversation

// State is the position of a phone number in the dialog. The zero value is Start.
type State int

const (
	Start State = iota
	SelectingLabTest
	PharmacyMenu
	AwaitingCategory
	AddingProduct
	AwaitingSearch
	ConfirmingOrder
	AwaitingFirstName
	AwaitingPaternalSurname
	AwaitingMaternalSurname
	AwaitingEmail
	AwaitingCurp
	AwaitingGender
	AwaitingAddress
	AwaitingPrescription
)

// stateTokens are the persisted tokens, indexed by State. They must never be
// renamed: session rows written by earlier deployments use them.
var stateTokens = [...]string{
	Start:                   "INICIO",
	SelectingLabTest:        "SELECCIONANDO_EXAMEN",
	PharmacyMenu:            "MENU_FARMACIA",
	AwaitingCategory:        "ESPERANDO_CATEGORIA",
	AddingProduct:           "AGREGANDO_PRODUCTO",
	AwaitingSearch:          "ESPERANDO_BUSQUEDA",
	ConfirmingOrder:         "CONFIRMANDO_PEDIDO",
	AwaitingFirstName:       "ESPERANDO_PRIMER_NOMBRE",
	AwaitingPaternalSurname: "ESPERANDO_APELLIDO_PATERNO",
	AwaitingMaternalSurname: "ESPERANDO_APELLIDO_MATERNO",
	AwaitingEmail:           "ESPERANDO_EMAIL",
	AwaitingCurp:            "ESPERANDO_CURP",
	AwaitingGender:          "ESPERANDO_GENERO",
	AwaitingAddress:         "ESPERANDO_DIRECCION",
	AwaitingPrescription:    "ESPERANDO_RECETA",
}

var statesByToken = func() map[string]State {
	m := make(map[string]State, len(stateTokens))
	for s, tok := range stateTokens {
		m[tok] = State(s)
	}
	return m
}()

// String returns the persisted token of s. Out-of-range values render as the
// Start token.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateTokens) {
		return stateTokens[Start]
	}
	return stateTokens[s]
}

// ParseState returns the State for a persisted token. Unknown tokens yield Start.
func ParseState(token string) State {
	if s, ok := statesByToken[token]; ok {
		return s
	}
	return Start
}

// AllStates lists every State in declaration order.
func AllStates() []State {
	out := make([]State, len(stateTokens))
	for i := range stateTokens {
		out[i] = State(i)
	}
	return out
}
