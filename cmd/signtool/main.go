// Command signtool prints the subscription auth signature a client would
// send for a given socket_id/channel(/channel_data), the way a publisher
// would compute it server-side before handing it to a client. Supplements
// spec.md's distillation with original_source's server-side sign_channel
// helper, useful for manual testing against a running engine.
package main

import (
	"flag"
	"fmt"
	"os"

	"pulsehub/internal/channel"
)

func main() {
	secret := flag.String("secret", "", "APP_SECRET (required)")
	socketID := flag.String("socket-id", "", "socket_id (required)")
	channelName := flag.String("channel", "", "channel name (required)")
	channelData := flag.String("channel-data", "", "channel_data JSON, required for presence- channels")
	flag.Parse()

	if *secret == "" || *socketID == "" || *channelName == "" {
		fmt.Fprintln(os.Stderr, "usage: signtool -secret=... -socket-id=... -channel=... [-channel-data=...]")
		os.Exit(2)
	}
	if channel.Classify(*channelName) == channel.Presence && *channelData == "" {
		fmt.Fprintln(os.Stderr, "signtool: -channel-data is required for a presence channel")
		os.Exit(2)
	}

	fmt.Println(channel.Sign(*secret, *socketID, *channelName, *channelData))
}
