package md

import (
	"context"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
	"github.com/rs/zerolog/log"
)

type BarHandler func(Bar)

// StartStream connects to the Alpaca websocket feed and forwards every bar for
// the watched symbols to the handler. It blocks until the context is done or
// the stream dies; the caller decides whether a dead stream is fatal.
func StartStream(ctx context.Context, apiKey, apiSecret, feed string, symbols []string, handler BarHandler) error {
	client := stream.NewStocksClient(
		parseFeed(feed),
		stream.WithCredentials(apiKey, apiSecret),
	)

	// Connect must be called before subscribing.
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect market data stream: %w", err)
	}

	if err := client.SubscribeToBars(func(bar stream.Bar) {
		handler(Bar{
			Symbol:    bar.Symbol,
			Timestamp: bar.Timestamp,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    float64(bar.Volume),
		})
	}, symbols...); err != nil {
		return fmt.Errorf("subscribe to bars: %w", err)
	}

	log.Info().Strs("symbols", symbols).Str("feed", feed).Msg("market data stream subscribed")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-client.Terminated():
		if err != nil {
			return fmt.Errorf("market data stream terminated: %w", err)
		}
		return fmt.Errorf("market data stream terminated")
	}
}

func parseFeed(feed string) marketdata.Feed {
	switch feed {
	case "sip":
		return marketdata.SIP
	default:
		return marketdata.IEX
	}
}
