package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/service"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

const liveWriteTimeout = 5 * time.Second

// ============================================================
// Live dashboard
// GET /v1/dashboard/live (websocket)
// ============================================================

// dashboardLiveHandler runs one DashboardView per connection. Snapshots are
// pushed as they are published; a slow client only ever sees the newest.
func dashboardLiveHandler(deps service.DashboardDeps, origins []string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFromContext(r.Context())

		// bad query params are rejected before the upgrade
		var rng *domain.DateRange
		if q := r.URL.Query(); q.Get("from") != "" || q.Get("to") != "" {
			parsed, err := dateRangeParams(r)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			rng = &parsed
		}

		// server read/write timeouts must not apply to a long-lived socket
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.String("user_id", id.ID), zap.Error(err))
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		snapshots := make(chan domain.DashboardSnapshot, 1)
		view := service.NewDashboardView(deps, id, func(s domain.DashboardSnapshot) {
			// called under the view lock; never block, keep only the newest
			select {
			case <-snapshots:
			default:
			}
			snapshots <- s
		})
		defer view.Close()

		if p := r.URL.Query().Get("project"); p != "" {
			view.SetSelection(p)
		}
		if rng != nil {
			view.SetDateRange(*rng)
		}
		if err := view.Start(ctx); err != nil {
			conn.Close(websocket.StatusInternalError, "view unavailable")
			return
		}

		errs := make(chan string, 4)
		readErr := make(chan error, 1)
		go readLive(ctx, conn, view, errs, readErr)

		logger.Info("live dashboard connected", zap.String("user_id", id.ID))
		defer logger.Info("live dashboard disconnected", zap.String("user_id", id.ID))

		for {
			var msg domain.LiveMessage
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "closed")
				return
			case err := <-readErr:
				if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
					logger.Debug("live read failed", zap.Error(err))
				}
				conn.Close(websocket.StatusNormalClosure, "closed")
				return
			case s := <-snapshots:
				msg = domain.LiveMessage{Type: domain.LiveMsgSnapshot, Snapshot: &s}
			case e := <-errs:
				msg = domain.LiveMessage{Type: domain.LiveMsgError, Error: e}
			}

			writeCtx, cancelWrite := context.WithTimeout(ctx, liveWriteTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancelWrite()
			if err != nil {
				conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func readLive(ctx context.Context, conn *websocket.Conn, view *service.DashboardView, errs chan<- string, done chan<- error) {
	for {
		var req domain.SelectRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			done <- err
			return
		}

		var problem string
		switch req.Type {
		case domain.LiveMsgSelect:
			rng, err := domain.ParseDateRange(req.From, req.To, time.Now())
			if err != nil {
				problem = err.Error()
				break
			}
			view.Select(req.Project, rng)
		case domain.LiveMsgMode:
			if err := view.SwitchViewMode(ctx, req.Mode); err != nil {
				problem = err.Error()
			}
		case domain.LiveMsgRefresh:
			view.Refresh()
		default:
			problem = "unknown message type: " + req.Type
		}

		if problem != "" {
			select {
			case errs <- problem:
			default:
			}
		}
	}
}

// ============================================================
// Live admin panel
// GET /v1/admin/live (websocket)
// ============================================================

// adminLiveHandler pushes the admin overview and refreshes it when users,
// projects or executions change. Only "refresh" is accepted from clients.
func adminLiveHandler(admin *service.AdminService, live *service.LiveRefresh, origins []string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := RoleFromContext(r.Context())

		overviews := make(chan domain.AdminOverview, 1)
		feed := service.NewAdminFeed(admin, live, role, func(o domain.AdminOverview) {
			select {
			case <-overviews:
			default:
			}
			overviews <- o
		}, logger)
		defer feed.Close()

		// authorization is decided before the upgrade
		if err := feed.Start(r.Context()); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		errs := make(chan string, 4)
		readErr := make(chan error, 1)
		go func() {
			for {
				var req domain.SelectRequest
				if err := wsjson.Read(ctx, conn, &req); err != nil {
					readErr <- err
					return
				}
				if req.Type == domain.LiveMsgRefresh {
					feed.Refresh()
					continue
				}
				select {
				case errs <- "unknown message type: " + req.Type:
				default:
				}
			}
		}()

		for {
			var msg domain.LiveMessage
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "closed")
				return
			case <-readErr:
				conn.Close(websocket.StatusNormalClosure, "closed")
				return
			case o := <-overviews:
				msg = domain.LiveMessage{Type: domain.LiveMsgAdmin, Admin: &o}
			case e := <-errs:
				msg = domain.LiveMessage{Type: domain.LiveMsgError, Error: e}
			}

			writeCtx, cancelWrite := context.WithTimeout(ctx, liveWriteTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancelWrite()
			if err != nil {
				conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}
