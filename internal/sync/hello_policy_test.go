package sync

import "testing"

func TestDecideHelloSelfConnection(t *testing.T) {
	d := DecideHello("dev-a", "ws-1", "dev-a", false, "dev-a", "ws-1")
	if d.Kind != DisconnectSelf {
		t.Fatalf("expected DisconnectSelf, got %v", d.Kind)
	}
}

func TestDecideHelloIdentityMismatchWithoutRekey(t *testing.T) {
	d := DecideHello("dev-a", "ws-1", "dev-expected", false, "dev-other", "ws-1")
	if d.Kind != DisconnectIdentityMismatch {
		t.Fatalf("expected DisconnectIdentityMismatch, got %v", d.Kind)
	}
}

func TestDecideHelloWorkspaceMismatchNoRekey(t *testing.T) {
	d := DecideHello("dev-a", "ws-1", "dev-b", false, "dev-b", "ws-2")
	if d.Kind != DisconnectWorkspaceMismatch {
		t.Fatalf("expected DisconnectWorkspaceMismatch, got %v", d.Kind)
	}
}

func TestDecideHelloWorkspaceMismatchWithRekeyButBothSet(t *testing.T) {
	d := DecideHello("dev-a", "ws-1", "dev-b", true, "dev-b", "ws-2")
	if d.Kind != DisconnectWorkspaceMismatch {
		t.Fatalf("expected DisconnectWorkspaceMismatch when neither workspace is nil, got %v", d.Kind)
	}
}

func TestDecideHelloPairingBootstrapLocalNilWorkspace(t *testing.T) {
	d := DecideHello("dev-a", "", "dev-b", true, "dev-b", "ws-2")
	if d.Kind != AcceptPairingBootstrap {
		t.Fatalf("expected AcceptPairingBootstrap, got %v", d.Kind)
	}
}

func TestDecideHelloPairingBootstrapRemoteNilWorkspace(t *testing.T) {
	d := DecideHello("dev-a", "ws-1", "dev-b", true, "dev-b", "")
	if d.Kind != AcceptPairingBootstrap {
		t.Fatalf("expected AcceptPairingBootstrap, got %v", d.Kind)
	}
}

func TestDecideHelloAcceptMatchingWorkspace(t *testing.T) {
	d := DecideHello("dev-a", "ws-1", "dev-b", false, "dev-b", "ws-1")
	if d.Kind != Accept {
		t.Fatalf("expected Accept, got %v", d.Kind)
	}
}

func TestDecideHelloAcceptWithRekeyAndMatchingIdentity(t *testing.T) {
	d := DecideHello("dev-a", "ws-1", "dev-b", true, "dev-b", "ws-1")
	if d.Kind != Accept {
		t.Fatalf("expected Accept, got %v", d.Kind)
	}
}

func TestDecideHelloRekeyAllowsIdentityChange(t *testing.T) {
	// With rekey allowed, a mismatched expected-peer-id no longer forces a
	// disconnect purely on identity; workspace match still governs the result.
	d := DecideHello("dev-a", "ws-1", "dev-expected", true, "dev-other", "ws-1")
	if d.Kind != Accept {
		t.Fatalf("expected Accept, got %v", d.Kind)
	}
}
