// SPDX-License-Identifier: MIT

// Command ensure-broadcast is a one-shot probe run from a timer: it verifies
// that the platform has an active or upcoming broadcast bound to the
// expected stream, so misconfigurations surface before air time.
//
// Exit codes: 0 ok, 2 no broadcast, 3 wrong binding, 4 API error,
// 1 unexpected.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/storesace-cv/bwb-stream2yt/internal/config"
	xlog "github.com/storesace-cv/bwb-stream2yt/internal/log"
	"github.com/storesace-cv/bwb-stream2yt/internal/youtube"
)

func main() {
	tokenFile := flag.String("token-file", "", "OAuth authorized-user token file (default /root/token.json)")
	streamID := flag.String("stream-id", "", "expected bound stream id (default from YTR_STREAM_ID)")
	flag.Parse()

	xlog.Configure(xlog.Config{Service: "ensure-broadcast"})
	logger := xlog.WithComponent("ensure")

	tokenPath := *tokenFile
	if tokenPath == "" {
		tokenPath = config.ParseString("/root/token.json", "YTR_OAUTH_TOKEN_PATH", "YT_OAUTH_TOKEN_PATH")
	}
	expected := *streamID
	if expected == "" {
		expected = config.ParseString("", "YTR_STREAM_ID")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := youtube.NewClient(ctx, tokenPath)
	if err != nil {
		logger.Error().Err(err).Msg("cannot build platform client")
		os.Exit(int(youtube.CategoryUnexpected))
	}

	category, detail := youtube.EnsureBroadcast(ctx, client, expected)
	fmt.Println(detail)
	if category == youtube.CategoryOK {
		logger.Info().Str("detail", detail).Msg("broadcast binding verified")
		os.Exit(0)
	}
	logger.Error().Str("category", category.String()).Str("detail", detail).
		Msg("broadcast binding check failed")
	os.Exit(int(category))
}
