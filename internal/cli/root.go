// Package cli is the meshcall participant command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dkeye/meshcall/internal/config"
	"github.com/dkeye/meshcall/internal/logging"
)

var (
	flagConfig string
	peerViper  = config.NewPeerViper()
)

var rootCmd = &cobra.Command{
	Use:   "meshcall",
	Short: "Join full-mesh WebRTC calls through a meshcall relay",
	Long: `meshcall connects to a signaling relay, joins a room and negotiates one
WebRTC session with every other member. Text typed on stdin is sent as
room chat.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	fs := rootCmd.PersistentFlags()
	fs.StringVar(&flagConfig, "config", "", "optional config file (yaml)")
	fs.String("server", "ws://localhost:8080", "relay address")
	fs.String("codec", "json", "signaling codec: json or msgpack")
	fs.String("log-level", "warn", "log level")
	cobra.CheckErr(config.BindPeerFlags(peerViper, fs))

	rootCmd.AddCommand(joinCmd, roomsCmd)
}

// loadPeer reads the merged participant configuration and sets up logging.
func loadPeer(v *viper.Viper) (*config.Peer, error) {
	cfg, err := config.LoadPeer(v, flagConfig)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LogLevel)
	return cfg, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
