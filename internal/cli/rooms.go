package cli

import (
	"github.com/spf13/cobra"

	"github.com/dkeye/meshcall/internal/domain"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms [room-id]",
	Short: "List active rooms, or the members of one room",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadPeer(peerViper)
		if err != nil {
			return err
		}
		api := newAPIClient(cfg.HTTPBase())
		out := cmd.OutOrStdout()

		if len(args) == 1 {
			room := domain.RoomID(args[0])
			roster, err := api.members(cmd.Context(), room)
			if err != nil {
				return err
			}
			renderMembers(out, room, roster)
			return nil
		}
		rooms, err := api.listRooms(cmd.Context())
		if err != nil {
			return err
		}
		renderRooms(out, rooms)
		return nil
	},
}
