package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var videoCmd = &cobra.Command{
	Use:   "video <video-id>",
	Short: "Look up video metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		m, err := client.VideoInfo(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		}

		fmt.Printf("%s  %s\n", m.ID, m.Title)
		fmt.Printf("length: %d:%02d  type: %s\n", m.Length/60, m.Length%60, m.MovieType)
		fmt.Printf("views: %d  comments: %d  mylists: %d\n",
			m.Stats.View, m.Stats.Comments, m.Stats.Mylist)
		for _, tag := range m.Tags {
			fmt.Printf("tag: %s\n", tag.Name)
		}
		return nil
	},
}

func init() {
	videoCmd.Flags().Bool("json", false, "print metadata as JSON")
	rootCmd.AddCommand(videoCmd)
}
