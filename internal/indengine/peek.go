package indengine

import (
	"context"
	"log"
)

// peekLoop feeds forming candles into the candle channel for live indicator
// previews. The source is configurable: either the resampler's forming-candle
// PubSub, or a local aggregation of the 1s candle feed.
func (svc *Service) peekLoop(ctx context.Context) {
	switch svc.cfg.PeekSource {
	case PeekSourceForming:
		if err := svc.source.SubscribeFormingCandles(ctx, svc.tfCandleCh); err != nil {
			log.Printf("[indengine] forming-candle subscription error: %v", err)
		}
	case PeekSource1s:
		if err := svc.source.Subscribe1sForPeek(ctx, svc.cfg.EnabledTFs, svc.tfCandleCh); err != nil {
			log.Printf("[indengine] 1s peek subscription error: %v", err)
		}
	case PeekSourceOff:
		log.Println("[indengine] live previews disabled (PEEK_SOURCE=off)")
	}
}
