// Package bufferhttp serves a buffer.Store over HTTP.
package bufferhttp

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"go.uber.org/zap"

	"distributed-blackjack-rl/internal/applog"
	"distributed-blackjack-rl/internal/buffer"
)

const maxBatchSize = 256

type Handler struct {
	Store buffer.Store
	Now   func() time.Time
}

func (h Handler) RegisterRoutes(s *server.Hertz) {
	s.GET("/healthz", h.healthz)
	s.GET("/stats", h.stats)
	s.GET("/config", h.getConfig)
	s.POST("/config", h.setConfig)
	s.POST("/enqueue", h.enqueue)
	s.GET("/dequeue", h.dequeue)
}

type configRequest struct {
	Policy *string `json:"policy"`
}

type configResponse struct {
	Policy   string `json:"policy"`
	Capacity int    `json:"capacity"`
}

type statsResponse struct {
	QueueLength int    `json:"queue_length"`
	Capacity    int    `json:"capacity"`
	Policy      string `json:"policy"`
}

func (h Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h Handler) healthz(_ context.Context, ctx *app.RequestContext) {
	ctx.String(consts.StatusOK, "ok")
}

func (h Handler) stats(c context.Context, ctx *app.RequestContext) {
	size, err := h.Store.Size(c)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, statsResponse{
		QueueLength: size,
		Capacity:    h.Store.Capacity(),
		Policy:      h.Store.Policy(),
	})
}

func (h Handler) getConfig(_ context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, configResponse{Policy: h.Store.Policy(), Capacity: h.Store.Capacity()})
}

func (h Handler) setConfig(_ context.Context, ctx *app.RequestContext) {
	var body configRequest
	if err := decodeJSON(ctx, &body); err != nil {
		writeErrorBody(ctx, consts.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	if body.Policy != nil {
		if err := h.Store.SetPolicy(*body.Policy); err != nil {
			writeError(ctx, err)
			return
		}
		applog.Info("buffer policy changed", zap.String("policy", *body.Policy))
	}
	ctx.SetStatusCode(consts.StatusNoContent)
}

func (h Handler) enqueue(c context.Context, ctx *app.RequestContext) {
	var body buffer.EnqueueRequest
	if err := decodeJSON(ctx, &body); err != nil {
		writeErrorBody(ctx, consts.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	now := h.now()

	var resp buffer.EnqueueResponse
	for _, traj := range body.Trajectories {
		err := h.Store.Enqueue(c, buffer.Item{Trajectory: traj, EnqueuedAt: now})
		switch {
		case err == nil:
			resp.Accepted++
		case errors.Is(err, buffer.ErrBufferFull):
			resp.Rejected++
		default:
			writeError(ctx, err)
			return
		}
	}

	if resp.Rejected > 0 {
		ctx.JSON(consts.StatusTooManyRequests, resp)
		return
	}
	ctx.JSON(consts.StatusAccepted, resp)
}

func (h Handler) dequeue(c context.Context, ctx *app.RequestContext) {
	batchSize := 1
	if raw := ctx.Query("batch_size"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			batchSize = min(parsed, maxBatchSize)
		}
	}

	out := buffer.DequeueResponse{Trajectories: make([]buffer.Trajectory, 0, batchSize)}
	for range batchSize {
		item, err := h.Store.Dequeue(c)
		if errors.Is(err, buffer.ErrBufferEmpty) {
			break
		}
		if err != nil {
			writeError(ctx, err)
			return
		}
		out.Trajectories = append(out.Trajectories, item.Trajectory)
	}
	if len(out.Trajectories) == 0 {
		ctx.SetStatusCode(consts.StatusNoContent)
		return
	}
	ctx.JSON(consts.StatusOK, out)
}

func decodeJSON(ctx *app.RequestContext, out any) error {
	body := ctx.Request.Body()
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func writeError(ctx *app.RequestContext, err error) {
	switch {
	case errors.Is(err, buffer.ErrInvalidPolicy):
		writeErrorBody(ctx, consts.StatusBadRequest, "invalid_policy", err.Error())
	case errors.Is(err, buffer.ErrBufferFull):
		writeErrorBody(ctx, consts.StatusTooManyRequests, "buffer_full", err.Error())
	default:
		applog.Error("buffer request failed", zap.Error(err))
		writeErrorBody(ctx, consts.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeErrorBody(ctx *app.RequestContext, status int, code, message string) {
	ctx.JSON(status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
