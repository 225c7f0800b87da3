package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zincnote/zincsync/internal/config"
	"github.com/zincnote/zincsync/pkg/zincsync"
)

var (
	serveDeviceName       string
	servePort             int
	serveDisableDiscovery bool
)

var serveCmd = &cobra.Command{
	Use:   "serve <workspace-id>",
	Short: "Run the sync coordinator for a workspace until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg := config.FromEnv()
		deviceName := serveDeviceName
		if deviceName == "" {
			deviceName = cfg.DeviceName
		}
		logFormat := "json"
		if cfg.DebugSync {
			logFormat = "console"
		}

		n, err := zincsync.New(ctx, zincsync.Options{
			DataDir:          dataDir,
			WorkspaceID:      args[0],
			DeviceName:       deviceName,
			DisableDiscovery: serveDisableDiscovery || cfg.DisableDiscovery,
			LogLevel:         envLogLevel(cfg),
			LogFormat:        logFormat,
		})
		if err != nil {
			return err
		}
		defer n.Close()

		n.Coordinator.OnPeerConnected(func(deviceID string) {
			fmt.Printf("peer connected: %s\n", deviceID)
		})
		n.Coordinator.OnPeerDisconnected(func(deviceID string) {
			fmt.Printf("peer disconnected: %s\n", deviceID)
		})
		n.Coordinator.OnChangeReceived(func(docID string, changeBytes []byte) {
			fmt.Printf("change received: doc=%s bytes=%d\n", docID, len(changeBytes))
		})
		n.Coordinator.OnError(func(err error) {
			fmt.Println("sync error:", err)
		})

		addr, err := n.Serve(ctx, servePort)
		if err != nil {
			return err
		}
		fmt.Printf("listening on %s as device %s\n", addr, n.DeviceID())

		<-ctx.Done()
		fmt.Println("shutting down")
		return nil
	},
}

func envLogLevel(cfg config.Config) string {
	if cfg.DebugSync {
		return "debug"
	}
	return "warn"
}

func init() {
	serveCmd.Flags().StringVar(&serveDeviceName, "device-name", "", "this device's display name (defaults to ZINC_DEVICE_NAME / hostname)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (0 for ephemeral)")
	serveCmd.Flags().BoolVar(&serveDisableDiscovery, "disable-discovery", false, "disable UDP multicast peer discovery")
	rootCmd.AddCommand(serveCmd)
}
