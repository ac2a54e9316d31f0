package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/mesh"
	"github.com/dkeye/meshcall/internal/negotiation"
)

func newTable(w io.Writer, title string, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	t.AppendHeader(header)
	return t
}

func renderRooms(w io.Writer, rooms []domain.RoomInfo) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, "no active rooms")
		return
	}
	t := newTable(w, "Rooms", table.Row{"Room", "Members"})
	for _, r := range rooms {
		t.AppendRow(table.Row{r.ID, r.MemberCount})
	}
	t.Render()
}

func renderMembers(w io.Writer, room domain.RoomID, roster domain.Roster) {
	t := newTable(w, "Room "+string(room), table.Row{"Name", "Connection"})
	for _, m := range roster {
		t.AppendRow(table.Row{m.DisplayName, m.ConnectionID})
	}
	t.Render()
}

// renderPeers lists the roster with the session state of each member.
// Members without a session yet show as pending.
func renderPeers(w io.Writer, roster domain.Roster, states map[domain.ConnectionID]negotiation.State) {
	t := newTable(w, "Peers", table.Row{"Name", "Connection", "Session"})
	for _, m := range roster {
		state := "pending"
		if s, ok := states[m.ConnectionID]; ok {
			state = s.String()
		}
		t.AppendRow(table.Row{m.DisplayName, m.ConnectionID, state})
	}
	t.AppendFooter(table.Row{"", "total", len(roster)})
	t.Render()
}

func renderStats(w io.Writer, stats []mesh.TrackStats) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "no remote tracks")
		return
	}
	t := newTable(w, "Tracks", table.Row{"Peer", "Track", "Packets", "Bytes", "State"})
	for _, s := range stats {
		t.AppendRow(table.Row{s.Remote, s.TrackID, s.Packets, s.Bytes, s.State})
	}
	t.Render()
}

func formatChat(m domain.ChatMessage) string {
	stamp := timeStyle.Render("[" + m.Timestamp.Local().Format("15:04:05") + "]")
	return fmt.Sprintf("%s %s: %s", stamp, m.SenderDisplayName, m.Text)
}

func formatRoster(room domain.RoomID, roster domain.Roster) string {
	names := make([]string, 0, len(roster))
	for _, m := range roster {
		names = append(names, m.DisplayName)
	}
	slices.Sort(names)
	if len(names) == 0 {
		return fmt.Sprintf("* room %s: you are alone", room)
	}
	return fmt.Sprintf("* room %s: %s", room, strings.Join(names, ", "))
}
