package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/inercia/chatline/internal/client"
	"github.com/inercia/chatline/internal/console"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List chat rooms",
	Long: `List, create and inspect chat rooms.

Join a room with 'chatline chat --room ID', or '/join ID' inside a chat.`,
	Args: cobra.NoArgs,
	RunE: runRoomsList,
}

var roomsCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a room",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := newAPIClient().CreateRoom(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created room %d: %s\n", room.ID, console.Sanitize(room.Name))
		return nil
	},
}

var roomsShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRoomID(args[0])
		if err != nil {
			return err
		}
		room, err := newAPIClient().GetRoom(cmd.Context(), uint(id))
		if err != nil {
			return err
		}
		renderRooms(cmd.OutOrStdout(), []client.Room{*room})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(roomsCmd)
	roomsCmd.AddCommand(roomsCreateCmd)
	roomsCmd.AddCommand(roomsShowCmd)
}

func runRoomsList(cmd *cobra.Command, args []string) error {
	rooms, err := newAPIClient().ListRooms(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(rooms) == 0 {
		fmt.Fprintln(out, "No rooms yet. Create one with 'chatline rooms create NAME'.")
		return nil
	}
	renderRooms(out, rooms)
	return nil
}

func renderRooms(w io.Writer, rooms []client.Room) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Name", "Created"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.AppendBulk(lo.Map(rooms, func(r client.Room, _ int) []string {
		created := ""
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.Local().Format(time.DateTime)
		}
		return []string{strconv.FormatUint(uint64(r.ID), 10), console.Sanitize(r.Name), created}
	}))
	table.Render()
}

// parseRoomID accepts a non-negative room number.
func parseRoomID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid room id %q", s)
	}
	return id, nil
}
