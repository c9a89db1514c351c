package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"niconico/live"
)

var watchCmd = &cobra.Command{
	Use:   "watch <broadcast-id>",
	Short: "Stream live comments from a broadcast",
	Long: `Connects to a broadcast's comment server and prints comments as they
arrive, starting with the requested backlog of past comments. Runs
until the broadcast ends or the process is interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backlog, _ := cmd.Flags().GetInt("backlog")

		broadcast, err := client.Broadcast(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		meta := broadcast.Metadata()
		fmt.Printf("%s  %s\n", broadcast.ID(), meta.Stream.Title)

		channel, err := broadcast.CommentChannel(cmd.Context(), &live.ChannelOptions{
			Connect:        true,
			ConnectOptions: &live.ConnectOptions{InitialBacklog: backlog},
		})
		if err != nil {
			return err
		}

		done := make(chan struct{})
		channel.OnFirstBatch(func(comments []*live.Comment) {
			for _, c := range comments {
				printComment(c)
			}
			channel.OnComment(printComment)
		})
		channel.OnEnded(func() {
			fmt.Println("broadcast ended")
			close(done)
		})
		channel.OnError(func(err error) {
			logger.WithError(err).Warn("comment channel error")
		})

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case <-done:
		case <-sig:
		case <-cmd.Context().Done():
		}
		channel.Disconnect()
		return nil
	},
}

func printComment(c *live.Comment) {
	marker := " "
	if c.IsOwnPost {
		marker = "*"
	}
	fmt.Printf("[%s]%s %s: %s\n",
		c.Date.Format(time.TimeOnly), marker, c.Author.ID, c.Text)
}

func init() {
	watchCmd.Flags().Int("backlog", 100, "number of past comments to request on connect")
	rootCmd.AddCommand(watchCmd)
}
