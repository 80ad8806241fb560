package handlers

import (
	"context"

	"go.uber.org/zap"

	"webhook_trader/internal/errs"
	"webhook_trader/internal/metrics"
	"webhook_trader/internal/models"
	"webhook_trader/internal/tradectx"
)

// Roe подтягивает стоп к уровню ROE. Уровень меняется только на более плотный,
// либо если прошлый стоп уже не живёт на бирже.
func (h *Handlers) Roe(ctx context.Context, ec *tradectx.EventContext) error {
	pos := ec.Signal.Position
	if pos == nil {
		return errs.Unexpected(errs.CodeNoPosition, ec.Symbol, string(ec.Signal.Side))
	}

	roe := pos.ROE()
	tier, idx, ok := h.engine.MatchRoeTier(roe)
	if !ok {
		return errs.Unexpected(errs.CodeRoeNoPercent, ec.Symbol, string(pos.Side))
	}

	if _, err := ec.Orders(ctx, true); err != nil {
		return err
	}
	if !h.engine.ShouldApplyRoeTier(ec.Symbol, idx, ec.HasOrder) {
		ec.Log().Debug("roe tier already applied", zap.Int("tier", idx), zap.Float64("roe", roe))
		return nil
	}

	created, err := h.SetTPSL(ctx, ec, *pos, []Task{{Percent: tier.StopLoss, StopLoss: true, Ref: models.PriceRefMark}})
	if err != nil {
		return err
	}
	if len(created) == 0 {
		return errs.Unexpected(errs.CodeNoCreatedSL, ec.Symbol, string(pos.Side))
	}

	h.engine.RecordStopLoss(ctx, ec.Symbol, created[0].ID, idx)
	metrics.RoeReplacementsTotal.WithLabelValues(ec.Symbol).Inc()
	ec.Log().Info("roe stop-loss moved", zap.Int("tier", idx), zap.Float64("roe", roe), zap.Int64("orderId", created[0].ID))
	h.notifier.Sendf("🛡 %s [%s] ROE %.2f%%: SL перенесён (уровень #%d, %.2f%%)", ec.Symbol, pos.PosSide, roe*100, idx, tier.StopLoss*100)
	return nil
}
