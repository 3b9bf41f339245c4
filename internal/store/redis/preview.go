package redis

import (
	"context"
	"encoding/json"

	"ta-systemv1/internal/model"
)

// SubscribeFormingCandles feeds forming TF candles off the pub:candle:*
// pattern into out. Completed candles on the same channels are dropped;
// those arrive durably via the stream consumer. Blocks until ctx ends.
func (r *Reader) SubscribeFormingCandles(ctx context.Context, out chan<- model.TFCandle) error {
	pubsub := r.client.PSubscribe(ctx, "pub:candle:*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var tfc model.TFCandle
			if err := json.Unmarshal([]byte(msg.Payload), &tfc); err != nil || !tfc.Forming {
				continue
			}
			select {
			case out <- tfc:
			default: // previews are droppable
			}
		}
	}
}

// Subscribe1sForPeek builds forming TF candles locally from the 1s feed
// when the upstream resampler does not publish forming bars itself. Each
// 1s tick updates an in-progress bucket per TF and emits a Forming=true
// snapshot of it. Blocks until ctx ends.
func (r *Reader) Subscribe1sForPeek(ctx context.Context, tfs []int, out chan<- model.TFCandle) error {
	pubsub := r.client.PSubscribe(ctx, "pub:candle:1s:*")
	defer pubsub.Close()

	agg := newPreviewAggregator(tfs)
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c, ok := decode1s([]byte(msg.Payload))
			if !ok {
				continue
			}
			for _, snap := range agg.apply(c) {
				select {
				case out <- snap:
				default:
				}
			}
		}
	}
}

// decode1s parses a 1s candle payload, accepting either the plain 1s
// shape or a TFCandle with TF=1.
func decode1s(payload []byte) (model.Candle, bool) {
	var c model.Candle
	if err := json.Unmarshal(payload, &c); err == nil && c.Token != "" {
		return c, true
	}
	var tfc model.TFCandle
	if err := json.Unmarshal(payload, &tfc); err == nil && tfc.TF == 1 {
		return model.Candle{
			Token: tfc.Token, Exchange: tfc.Exchange,
			TS: tfc.TS, Open: tfc.Open, High: tfc.High,
			Low: tfc.Low, Close: tfc.Close, Volume: tfc.Volume,
		}, true
	}
	return model.Candle{}, false
}

// previewAggregator folds 1s candles into one in-progress bucket per
// TF/instrument. A tick landing in a later bucket discards the old one;
// the finalized bar for it comes through the stream consumer.
type previewAggregator struct {
	tfs     []int
	buckets map[string]*previewBucket // key: "tf:exchange:token"
}

type previewBucket struct {
	start  int64 // bucket-aligned unix seconds
	candle model.TFCandle
}

func newPreviewAggregator(tfs []int) *previewAggregator {
	return &previewAggregator{tfs: tfs, buckets: make(map[string]*previewBucket)}
}

// apply merges one 1s candle and returns a forming snapshot per TF.
func (a *previewAggregator) apply(c model.Candle) []model.TFCandle {
	ts := c.TS.Unix()
	snaps := make([]model.TFCandle, 0, len(a.tfs))
	for _, tf := range a.tfs {
		start := ts - ts%int64(tf)
		key := model.Itoa(tf) + ":" + c.Exchange + ":" + c.Token

		b := a.buckets[key]
		if b == nil || start > b.start {
			b = &previewBucket{
				start: start,
				candle: model.TFCandle{
					Token: c.Token, Exchange: c.Exchange,
					TF: tf, TS: c.TS,
					Open: c.Open, High: c.High, Low: c.Low, Close: c.Close,
					Volume: c.Volume, Count: 1,
					Forming: true,
				},
			}
			a.buckets[key] = b
		} else {
			fc := &b.candle
			if c.High > fc.High {
				fc.High = c.High
			}
			if c.Low < fc.Low {
				fc.Low = c.Low
			}
			fc.Close = c.Close
			fc.Volume += c.Volume
			fc.Count++
		}
		snaps = append(snaps, b.candle)
	}
	return snaps
}
