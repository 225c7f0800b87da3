package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zincnote/zincsync/internal/pairing"
	"github.com/zincnote/zincsync/internal/types"
	"github.com/zincnote/zincsync/internal/zerrors"
	"github.com/zincnote/zincsync/pkg/zincsync"
)

var pairDeviceName string

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Pair a new device into a workspace",
}

func runPair(workspaceID string, method pairing.Method) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Code/passphrase pairing needs no pre-known workspace id: both devices
	// derive the same one by hashing the code itself, so a device with
	// nothing but the spoken/typed secret can still converge on it. QR
	// pairing still requires one explicitly, since the payload carries a
	// real device address rather than a low-entropy shared secret.
	var preCode string
	if workspaceID == "" {
		if method == pairing.QRCode {
			return fmt.Errorf("workspace id required for QR pairing")
		}
		code, err := pairing.GenerateVerificationCode(method)
		if err != nil {
			return err
		}
		derived, err := pairing.DeriveWorkspaceID(method, code)
		if err != nil {
			return err
		}
		preCode, workspaceID = code, derived
	}

	n, err := zincsync.New(ctx, zincsync.Options{
		DataDir:     dataDir,
		WorkspaceID: workspaceID,
		DeviceName:  pairDeviceName,
	})
	if err != nil {
		return err
	}
	defer n.Close()

	// A workspace derived from a code/passphrase has no owner device to
	// have created it ahead of time; create it on first use.
	if _, err := n.Workspaces.Get(workspaceID); err != nil {
		if !zerrors.Is(err, zerrors.NotFound) {
			return err
		}
		now := time.Now().UnixMilli()
		if err := n.Workspaces.Create(types.Workspace{ID: workspaceID, Name: workspaceID, CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
	}

	session := pairing.NewSession(n.Identity())
	if preCode != "" {
		session.SetVerificationCode(preCode)
	}

	// A pairing exchange trusts the next Hello from an as-yet-unrecognized
	// device, since the verification code/passphrase/QR is the trust
	// anchor for this one connection rather than a prior paired identity.
	n.Coordinator.AllowRekeyOnHello(true)

	paired := make(chan string, 1)
	n.Coordinator.OnPeerConnected(func(deviceID string) { paired <- deviceID })

	addr, err := n.Serve(ctx, 0)
	if err != nil {
		return err
	}
	session.SetListenPort(listenPortOf(addr))
	session.SetAddress(outboundAddress(addr))
	if err := session.StartAsInitiator(workspaceID, pairDeviceName, method); err != nil {
		return err
	}

	switch method {
	case pairing.NumericCode:
		fmt.Printf("pairing code: %s\n", session.VerificationCode())
	case pairing.Passphrase:
		fmt.Printf("pairing passphrase: %s\n", session.VerificationCode())
	case pairing.QRCode:
		fmt.Printf("pairing QR payload: %s\n", session.QRCodeData())
	}
	fmt.Printf("listening on %s, waiting for the other device to connect...\n", addr)

	select {
	case deviceID := <-paired:
		pubKey, _ := n.Coordinator.PeerPublicKey(deviceID)
		now := time.Now().UnixMilli()
		device := types.Device{
			ID: uuid.NewString(), WorkspaceID: workspaceID, Name: deviceID,
			PublicKey: pubKey[:], PairedAt: now, LastSeen: now,
		}
		if err := n.Devices.Create(device); err != nil {
			return err
		}
		session.CompleteExchange(pairing.Info{DeviceID: deviceID, WorkspaceID: workspaceID})
		fmt.Printf("paired with %s\n", deviceID)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pairing cancelled")
	}
}

// listenPortOf extracts the numeric port from a "host:port" address, for
// embedding in the QR payload.
func listenPortOf(addr string) int {
	var port int
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			fmt.Sscanf(addr[i+1:], "%d", &port)
			break
		}
	}
	return port
}

// outboundAddress turns a listener's (often wildcard-host) bound address
// into one a responder on the same network can actually dial, by
// substituting the host with the local IP this machine would use to reach
// the wider network.
func outboundAddress(addr string) string {
	port := listenPortOf(addr)
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return addr
	}
	defer conn.Close()
	host := conn.LocalAddr().(*net.UDPAddr).IP.String()
	return net.JoinHostPort(host, fmt.Sprintf("%d", port))
}

var pairCodeCmd = &cobra.Command{
	Use:   "code [workspace-id]",
	Short: "Pair a new device using a numeric code (workspace id derived from the code if omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPair(firstArg(args), pairing.NumericCode)
	},
}

var pairPassphraseCmd = &cobra.Command{
	Use:   "passphrase [workspace-id]",
	Short: "Pair a new device using a word passphrase (workspace id derived from the passphrase if omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPair(firstArg(args), pairing.Passphrase)
	},
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

var pairQRCmd = &cobra.Command{
	Use:   "qr <workspace-id>",
	Short: "Pair a new device using a QR payload (printed as JSON; rendering it as an image is left to the host application)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPair(args[0], pairing.QRCode)
	},
}

func init() {
	pairCmd.PersistentFlags().StringVar(&pairDeviceName, "device-name", "zincsync-device", "this device's display name")
	pairCmd.AddCommand(pairCodeCmd, pairPassphraseCmd, pairQRCmd)
	rootCmd.AddCommand(pairCmd)
}
