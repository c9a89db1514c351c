package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"niconico/live"
	"niconico/nsen"
	"niconico/video"
)

var nsenCmd = &cobra.Command{
	Use:   "nsen <broadcast-id>",
	Short: "Follow an Nsen station",
	Long: `Attaches to an Nsen station broadcast and prints the auto-DJ's
announcements: track changes, DJ messages, request state and good
counts. Station rollovers are followed automatically.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		station, err := client.Nsen(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer station.Dispose()

		if info := nsen.ChannelByType(station.ChannelType()); info != nil {
			fmt.Printf("station: %s (%s)\n", info.Name, info.ID)
		}

		station.OnTrackChanged(func(change nsen.TrackChange) {
			if change.Next == nil {
				fmt.Println("-- nothing playing --")
				return
			}
			fmt.Printf("♪ %s (%s, %s)\n",
				change.Next.Title, change.Next.ID, formatLength(change.Next))
		})
		station.OnTrackChanging(func(next *video.Metadata) {
			if next != nil {
				fmt.Printf("up next: %s\n", next.Title)
			}
		})
		station.OnDJMessage(func(msg string) {
			fmt.Printf("DJ: %s\n", msg)
		})
		station.OnGoodReceived(func() {
			fmt.Println("good!")
		})
		station.OnRequestState(func(state string) {
			fmt.Printf("requests: %s\n", state)
		})
		station.OnStreamChanged(func(b *live.BroadcastInfo) {
			fmt.Printf("moved to %s\n", b.ID())
		})

		done := make(chan struct{})
		station.OnEnded(func() { close(done) })

		if err := station.Connect(cmd.Context(), nil); err != nil {
			return err
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case <-done:
		case <-sig:
		case <-cmd.Context().Done():
		}
		return nil
	},
}

var nsenRequestCmd = &cobra.Command{
	Use:   "request <broadcast-id> <video-id>",
	Short: "Request a track on an Nsen station",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		station, err := client.Nsen(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer station.Dispose()

		if err := station.PushRequest(cmd.Context(), args[1]); err != nil {
			return err
		}
		fmt.Printf("requested %s\n", args[1])
		return nil
	},
}

var nsenCancelCmd = &cobra.Command{
	Use:   "cancel <broadcast-id>",
	Short: "Withdraw the pending track request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		station, err := client.Nsen(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer station.Dispose()
		return station.CancelRequest(cmd.Context())
	},
}

var nsenGoodCmd = &cobra.Command{
	Use:   "good <broadcast-id>",
	Short: "Send a good vote for the playing track",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		station, err := client.Nsen(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer station.Dispose()
		return station.PushGood(cmd.Context())
	},
}

var nsenSkipCmd = &cobra.Command{
	Use:   "skip <broadcast-id>",
	Short: "Vote to skip the playing track",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		station, err := client.Nsen(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer station.Dispose()

		// The playing track settles shortly after the metadata fetch.
		deadline := time.Now().Add(3 * time.Second)
		for station.CurrentVideo() == nil && time.Now().Before(deadline) {
			time.Sleep(100 * time.Millisecond)
		}
		return station.PushSkip(cmd.Context())
	},
}

func formatLength(m *video.Metadata) string {
	return fmt.Sprintf("%d:%02d", m.Length/60, m.Length%60)
}

func init() {
	nsenCmd.AddCommand(nsenRequestCmd, nsenCancelCmd, nsenGoodCmd, nsenSkipCmd)
	rootCmd.AddCommand(nsenCmd)
}
