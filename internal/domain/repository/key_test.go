package repository

import "testing"

// La secuencia solo avanza de a un paso: nunca se saltea ni retrocede.
func TestKeyStatus_CanTransition(t *testing.T) {
	t.Parallel()
	allowed := map[KeyStatus]KeyStatus{
		KeyStatusPending: KeyStatusActive,
		KeyStatusActive:  KeyStatusRetired,
		KeyStatusRetired: KeyStatusDeleted,
	}
	all := []KeyStatus{KeyStatusPending, KeyStatusActive, KeyStatusRetired, KeyStatusDeleted}
	for _, from := range all {
		for _, to := range all {
			want := allowed[from] == to
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s→%s = %v, want %v", from, to, got, want)
			}
		}
	}
	if KeyStatus("BOGUS").CanTransition(KeyStatusActive) {
		t.Error("estado desconocido no debe transicionar")
	}
}
