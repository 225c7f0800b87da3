package sync

// HelloDecisionKind is the outcome of evaluating a peer's Hello message.
type HelloDecisionKind int

const (
	Accept HelloDecisionKind = iota
	AcceptPairingBootstrap
	DisconnectSelf
	DisconnectIdentityMismatch
	DisconnectWorkspaceMismatch
)

func (k HelloDecisionKind) String() string {
	switch k {
	case Accept:
		return "accept"
	case AcceptPairingBootstrap:
		return "accept_pairing_bootstrap"
	case DisconnectSelf:
		return "disconnect_self"
	case DisconnectIdentityMismatch:
		return "disconnect_identity_mismatch"
	case DisconnectWorkspaceMismatch:
		return "disconnect_workspace_mismatch"
	default:
		return "unknown"
	}
}

// HelloDecision is the result of DecideHello.
type HelloDecision struct {
	Kind   HelloDecisionKind
	Reason string
}

// DecideHello is a pure decision function with no side effects, so every
// branch of the Hello policy truth table can be exercised directly in
// tests without standing up a connection.
//
//   - A Hello claiming to be our own device ID is always rejected
//     (DisconnectSelf), even before checking identity/workspace.
//   - Unless allowRekeyOnHello is set, the remote device ID must match the
//     one we expect for this connection (identity pinning).
//   - A workspace mismatch is normally fatal, except during pairing
//     bootstrap: if rekeying is allowed and either side's workspace is nil
//     (unset), the mismatch is treated as an initial pairing exchange
//     instead of a hostile reconnect.
func DecideHello(
	localDeviceID, localWorkspaceID string,
	expectedPeerID string,
	allowRekeyOnHello bool,
	remoteDeviceID, remoteWorkspaceID string,
) HelloDecision {
	if remoteDeviceID == localDeviceID {
		return HelloDecision{Kind: DisconnectSelf, Reason: "hello from self"}
	}

	if !allowRekeyOnHello && expectedPeerID != remoteDeviceID {
		return HelloDecision{Kind: DisconnectIdentityMismatch, Reason: "peer identity mismatch"}
	}

	if remoteWorkspaceID != localWorkspaceID {
		pairingBootstrap := allowRekeyOnHello && (remoteWorkspaceID == "" || localWorkspaceID == "")
		if pairingBootstrap {
			return HelloDecision{Kind: AcceptPairingBootstrap, Reason: "pairing bootstrap allowed"}
		}
		return HelloDecision{Kind: DisconnectWorkspaceMismatch, Reason: "workspace mismatch"}
	}

	return HelloDecision{Kind: Accept}
}
