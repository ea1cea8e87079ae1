package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rustyeddy/tradeguard/batch"
	"github.com/rustyeddy/tradeguard/breakout"
	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/errdefs"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/risk"
)

type stateResponse struct {
	State      string    `json:"state"`
	Realized   float64   `json:"realized"`
	Floating   float64   `json:"floating"`
	Total      float64   `json:"total"`
	TradeCount int       `json:"trade_count"`
	InFlight   int       `json:"in_flight"`
	HaltKind   string    `json:"halt_kind,omitempty"`
	HaltReason string    `json:"halt_reason,omitempty"`
	Day        string    `json:"day"`
	WindowEnd  time.Time `json:"window_end"`
	LossLimit  float64   `json:"daily_loss_limit"`
	TradeLimit int       `json:"daily_trade_limit"`
}

func (s *Server) getState(c *gin.Context) {
	snap := s.guard.Snapshot()
	c.JSON(http.StatusOK, stateResponse{
		State:      snap.State.String(),
		Realized:   snap.Realized,
		Floating:   snap.Floating,
		Total:      snap.Total(),
		TradeCount: snap.TradeCount,
		InFlight:   snap.InFlight,
		HaltKind:   string(snap.HaltKind),
		HaltReason: snap.HaltReason,
		Day:        snap.Window.Day(),
		WindowEnd:  snap.Window.End,
		LossLimit:  snap.Limits.DailyLossLimit,
		TradeLimit: snap.Limits.DailyTradeLimit,
	})
}

type eventResponse struct {
	ID      string         `json:"id"`
	Time    time.Time      `json:"time"`
	Day     string         `json:"day"`
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (s *Server) getEvents(c *gin.Context) {
	evs := s.guard.Events()
	out := make([]eventResponse, 0, len(evs))
	for _, ev := range evs {
		out = append(out, eventResponse{
			ID: ev.ID, Time: ev.Time, Day: ev.Day, Kind: string(ev.Kind), Message: ev.Message, Payload: ev.Payload,
		})
	}
	c.JSON(http.StatusOK, out)
}

type batchRequest struct {
	Symbol    string `json:"symbol" binding:"required"`
	Direction string `json:"direction" binding:"required"`
	// Slots picks configured legs and enables them; empty sends every
	// enabled configured leg.
	Slots []int `json:"slots"`
}

type legResponse struct {
	Slot        int     `json:"slot"`
	Status      string  `json:"status"`
	Ticket      uint64  `json:"ticket,omitempty"`
	Volume      float64 `json:"volume,omitempty"`
	Entry       float64 `json:"entry,omitempty"`
	StopLoss    float64 `json:"stop_loss,omitempty"`
	TakeProfit  float64 `json:"take_profit,omitempty"`
	ImpliedLoss float64 `json:"implied_loss,omitempty"`
	OverRisk    bool    `json:"over_risk,omitempty"`
	Error       string  `json:"error,omitempty"`
}

func toLegResponse(r batch.LegResult) legResponse {
	out := legResponse{
		Slot:        r.Slot,
		Status:      string(r.Status),
		Ticket:      uint64(r.Ticket),
		Volume:      r.Plan.Volume,
		Entry:       r.Plan.Entry,
		StopLoss:    r.Plan.StopLoss,
		TakeProfit:  r.Plan.TakeProfit,
		ImpliedLoss: r.Plan.ImpliedLoss,
		OverRisk:    r.Plan.OverRisk,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

func parseDirection(s string) (market.Direction, error) {
	dir, err := market.ParseDirection(s)
	if err != nil {
		return 0, errdefs.NewValidation("direction", s, "must be buy or sell")
	}
	return dir, nil
}

func (s *Server) postBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errdefs.NewValidation("body", "", err.Error()))
		return
	}
	dir, err := parseDirection(req.Direction)
	if err != nil {
		fail(c, err)
		return
	}

	legs, err := pickLegs(s.current().Legs, req.Slots)
	if err != nil {
		fail(c, err)
		return
	}

	results := s.ctl.SubmitBatch(c.Request.Context(), legs, req.Symbol, dir)
	out := make([]legResponse, 0, len(results))
	for _, r := range results {
		s.metrics.Leg("batch", string(r.Status))
		out = append(out, toLegResponse(r))
	}
	c.JSON(http.StatusOK, gin.H{"symbol": req.Symbol, "direction": dir.String(), "legs": out})
}

func pickLegs(configured []risk.Leg, slots []int) ([]risk.Leg, error) {
	if len(slots) == 0 {
		return configured, nil
	}
	bySlot := make(map[int]risk.Leg, len(configured))
	for _, l := range configured {
		bySlot[l.Slot] = l
	}
	out := make([]risk.Leg, 0, len(slots))
	picked := make(map[int]bool, len(slots))
	for _, n := range slots {
		l, ok := bySlot[n]
		if !ok {
			return nil, errdefs.NewValidation("slots", n, "no such configured leg")
		}
		if picked[n] {
			return nil, errdefs.NewValidation("slots", n, "slot listed more than once")
		}
		picked[n] = true
		l.Enabled = true
		out = append(out, l)
	}
	return out, nil
}

type breakoutRequest struct {
	Symbol    string `json:"symbol" binding:"required"`
	Direction string `json:"direction" binding:"required"`
	// Slot selects the configured leg sent on trigger; zero takes the first
	// enabled one.
	Slot int `json:"slot"`
	// Price arms at an explicit level; zero derives it from closed candles.
	Price   float64 `json:"price"`
	Candles int     `json:"candles"`
}

type breakoutResponse struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Direction string    `json:"direction"`
	Trigger   float64   `json:"trigger"`
	Slot      int       `json:"slot"`
	ArmedAt   time.Time `json:"armed_at"`
	State     string    `json:"state"`
}

func toBreakoutResponse(o breakout.Order) breakoutResponse {
	return breakoutResponse{
		ID:        o.ID,
		Symbol:    o.Symbol,
		Direction: o.Direction.String(),
		Trigger:   o.Trigger,
		Slot:      o.Leg.Slot,
		ArmedAt:   o.ArmedAt,
		State:     o.State.String(),
	}
}

func (s *Server) postBreakout(c *gin.Context) {
	var req breakoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errdefs.NewValidation("body", "", err.Error()))
		return
	}
	dir, err := parseDirection(req.Direction)
	if err != nil {
		fail(c, err)
		return
	}
	if !s.guard.CanTrade() {
		fail(c, fmt.Errorf("arm breakout: %w", errdefs.ErrRiskHalted))
		return
	}

	st := s.current()
	leg, err := breakoutLeg(st.Legs, req.Slot)
	if err != nil {
		fail(c, err)
		return
	}

	trigger := req.Price
	if trigger <= 0 {
		n := req.Candles
		if n <= 0 {
			n = st.CandleLookback
		}
		offset := st.HighOffsetPoints
		if dir == market.Sell {
			offset = st.LowOffsetPoints
		}
		trigger, err = s.ctl.BreakoutLevel(c.Request.Context(), req.Symbol, dir, n, offset)
		if err != nil {
			fail(c, err)
			return
		}
	}

	id, err := s.watcher.Arm(breakout.Order{Symbol: req.Symbol, Direction: dir, Trigger: trigger, Leg: leg})
	if err != nil {
		fail(c, err)
		return
	}

	armed := s.watcher.Armed()
	s.metrics.ObserveArmed(len(armed))
	for _, o := range armed {
		if o.ID == id {
			c.JSON(http.StatusCreated, toBreakoutResponse(o))
			return
		}
	}
	// fired or cancelled between Arm and Armed
	c.JSON(http.StatusCreated, gin.H{"id": id, "trigger": trigger})
}

func breakoutLeg(legs []risk.Leg, slot int) (risk.Leg, error) {
	for _, l := range legs {
		if slot == 0 && l.Enabled {
			return l, nil
		}
		if slot != 0 && l.Slot == slot {
			l.Enabled = true
			return l, nil
		}
	}
	return risk.Leg{}, errdefs.NewValidation("slot", slot, "no usable configured leg")
}

func (s *Server) listBreakouts(c *gin.Context) {
	armed := s.watcher.Armed()
	out := make([]breakoutResponse, 0, len(armed))
	for _, o := range armed {
		out = append(out, toBreakoutResponse(o))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) deleteBreakout(c *gin.Context) {
	if !s.watcher.Cancel(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no armed breakout " + c.Param("id")})
		return
	}
	s.metrics.ObserveArmed(len(s.watcher.Armed()))
	c.Status(http.StatusNoContent)
}

type failureResponse struct {
	Op       string `json:"op"`
	Ticket   uint64 `json:"ticket"`
	Symbol   string `json:"symbol,omitempty"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

type closeResponse struct {
	Closed      []broker.Ticket   `json:"closed"`
	Cancelled   []broker.Ticket   `json:"cancelled"`
	Interrupted int               `json:"interrupted"`
	Failed      []failureResponse `json:"failed,omitempty"`
}

func failures(fs []batch.Failure) []failureResponse {
	out := make([]failureResponse, 0, len(fs))
	for _, f := range fs {
		out = append(out, failureResponse{
			Op: f.Op, Ticket: uint64(f.Ticket), Symbol: f.Symbol, Attempts: f.Attempts, Error: f.Err.Error(),
		})
	}
	return out
}

// writeClose answers 200 when every item went through and 502 otherwise,
// with the full report either way.
func writeClose(c *gin.Context, r batch.CloseReport) {
	body := closeResponse{
		Closed:      r.Closed,
		Cancelled:   r.Cancelled,
		Interrupted: r.Interrupted,
		Failed:      failures(r.Failed),
	}
	if err := r.Err(); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) postCloseAll(c *gin.Context) {
	writeClose(c, s.ctl.CloseAll(c.Request.Context()))
}

func (s *Server) postCancelPending(c *gin.Context) {
	writeClose(c, s.ctl.CancelAllPending(c.Request.Context()))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) postFlatten(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "operator flatten"
	}
	writeClose(c, s.ctl.Flatten(c.Request.Context(), req.Reason))
}

// postHalt moves the guard to HALTED; the guard's halt handler then flattens.
func (s *Server) postHalt(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "operator halt"
	}
	changed := s.guard.Halt(c.Request.Context(), req.Reason)
	c.JSON(http.StatusOK, gin.H{"halted": true, "changed": changed})
}

type modifyResponse struct {
	Modified []broker.Ticket   `json:"modified"`
	Skipped  []broker.Ticket   `json:"skipped"`
	Failed   []failureResponse `json:"failed,omitempty"`
}

func writeModify(c *gin.Context, r batch.ModifyReport, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	body := modifyResponse{Modified: r.Modified, Skipped: r.Skipped, Failed: failures(r.Failed)}
	if len(r.Failed) > 0 {
		_ = c.Error(errors.New("stop modification failed"))
		c.JSON(http.StatusBadGateway, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

type breakevenRequest struct {
	OffsetPoints *float64 `json:"offset_points"`
}

func (s *Server) postBreakeven(c *gin.Context) {
	var req breakevenRequest
	_ = c.ShouldBindJSON(&req)
	offset := s.current().BreakevenOffsetPoints
	if req.OffsetPoints != nil {
		offset = *req.OffsetPoints
	}
	r, err := s.ctl.BreakevenAll(c.Request.Context(), offset)
	writeModify(c, r, err)
}

type candleStopRequest struct {
	Count     int    `json:"count" binding:"required"`
	Timeframe string `json:"timeframe"`
}

func (s *Server) postStopsToCandle(c *gin.Context) {
	var req candleStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errdefs.NewValidation("body", "", err.Error()))
		return
	}
	tf := market.Timeframe(req.Timeframe)
	if tf == "" {
		tf = s.current().Timeframe
	}
	if _, err := tf.Duration(); err != nil {
		fail(c, errdefs.NewValidation("timeframe", req.Timeframe, err.Error()))
		return
	}
	r, err := s.ctl.MoveStopsToCandle(c.Request.Context(), req.Count, tf)
	writeModify(c, r, err)
}
