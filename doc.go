// Package niconico provides a client library for the niconico video
// platform's live-broadcast APIs.
//
// It speaks the comment server's wire protocol, fetches broadcast and
// video metadata, and drives the platform's Nsen auto-DJ channels.
//
// Overview
//
// The root Client ties the pieces together:
//
//   - Broadcast: fetch a live broadcast's metadata
//   - CommentChannel: stream and post live comments over the raw socket
//   - Nsen: interpret an Nsen station's control comments into events
//   - VideoInfo: look up video metadata
//
// Quick Start
//
// Watch a live broadcast's comments:
//
//	ctx := context.Background()
//	client, err := niconico.NewClient(nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	broadcast, err := client.Broadcast(ctx, "lv123456")
//	if err != nil {
//		log.Fatal(err)
//	}
//	channel, err := broadcast.CommentChannel(ctx, &live.ChannelOptions{Connect: true})
//	if err != nil {
//		log.Fatal(err)
//	}
//	channel.OnComment(func(c *live.Comment) {
//		fmt.Printf("[%s] %s\n", c.Author.ID, c.Text)
//	})
//
// Post a comment:
//
//	err = channel.PostComment(ctx, "good song", []string{"184"}, 0)
//
// Follow an Nsen station:
//
//	station, err := client.Nsen(ctx, "lv123456")
//	if err != nil {
//		log.Fatal(err)
//	}
//	station.OnTrackChanged(func(tc nsen.TrackChange) {
//		if tc.Next != nil {
//			fmt.Println("now playing:", tc.Next.Title)
//		}
//	})
//	if err := station.Connect(ctx, nil); err != nil {
//		log.Fatal(err)
//	}
package niconico
