package bridge

import (
	"testing"

	"github.com/reticulum-go/meshbridge/pkg/radio"
)

func TestAddressPolicyDefaultsToBroadcast(t *testing.T) {
	policy := NewAddressPolicy()
	if got := policy.Current(); !got.IsBroadcast() {
		t.Errorf("Current() = %v, want broadcast", got)
	}
}

func TestAddressPolicyToggle(t *testing.T) {
	policy := NewAddressPolicy()

	policy.SetUnicast(radio.Address(42))
	if got := policy.Current(); got != 42 {
		t.Errorf("Current() = %v, want 42", got)
	}

	policy.SetBroadcast()
	if got := policy.Current(); !got.IsBroadcast() {
		t.Errorf("Current() = %v, want broadcast", got)
	}
}
