package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"niconico/live"
)

var postCmd = &cobra.Command{
	Use:   "post <broadcast-id> <text>",
	Short: "Post a comment to a live broadcast",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		anonymous, _ := cmd.Flags().GetBool("anonymous")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		broadcast, err := client.Broadcast(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		channel, err := broadcast.CommentChannel(cmd.Context(), &live.ChannelOptions{Connect: true})
		if err != nil {
			return err
		}
		defer channel.Disconnect()

		var tags []string
		if anonymous {
			tags = append(tags, "184")
		}
		if err := channel.PostComment(cmd.Context(), args[1], tags, timeout); err != nil {
			return err
		}
		fmt.Println("posted")
		return nil
	},
}

func init() {
	postCmd.Flags().Bool("anonymous", true, "post anonymously (184)")
	postCmd.Flags().Duration("timeout", 3*time.Second, "how long to wait for the post result")
	rootCmd.AddCommand(postCmd)
}
