package indengine

import (
	"context"
	"log"
)

// peekLoop turns the 1s candle Pub/Sub feed into forming TF candles so the
// process loop can emit live preview points between bucket closes.
func (svc *Service) peekLoop(ctx context.Context) {
	if err := svc.redisReader.Subscribe1sForPeek(ctx, svc.cfg.EnabledTFs, svc.tfCandleCh); err != nil {
		log.Printf("[indengine] 1s peek subscription error: %v", err)
	}
}
