package handlers

import (
	"context"
	"net/http"

	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
	"github.com/wolfman30/smartqueue-portal/internal/querycache"
	"github.com/wolfman30/smartqueue-portal/internal/session"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

const recentAppointmentCount = 3

// AppointmentsHandler serves the citizen's own appointments.
type AppointmentsHandler struct {
	renderer *Renderer
	cache    *querycache.Cache
	poller   *querycache.Poller
	logger   *logging.Logger
}

func NewAppointmentsHandler(renderer *Renderer, cache *querycache.Cache, poller *querycache.Poller, logger *logging.Logger) *AppointmentsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentsHandler{renderer: renderer, cache: cache, poller: poller, logger: logger}
}

type mineView struct {
	Appointments []qmsapi.MyAppointment
	Stale        bool
	LoadFailed   bool
}

// loadMine reads the session's appointments through the cache and keeps
// them polled while the page is open.
func loadMine(ctx context.Context, cache *querycache.Cache, poller *querycache.Poller, sess *session.Session) querycache.Result[[]qmsapi.MyAppointment] {
	api := sess.API()
	key := querycache.Key(sess.ID(), querycache.KeyMyAppointments)
	res := querycache.Load(ctx, cache, key, api.MyAppointments)
	if poller != nil && !res.Failed() {
		poller.Ensure(key, querycache.KeyMyAppointments, querycache.IntervalMyAppointments, func(ctx context.Context) (any, error) {
			return api.MyAppointments(ctx)
		})
	}
	return res
}

// Mine lists the signed-in user's appointments.
// GET /mine
func (h *AppointmentsHandler) Mine(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	res := loadMine(r.Context(), h.cache, h.poller, sess)
	if res.Err != nil {
		if expired(w, r, res.Err) {
			return
		}
		h.logger.Warn("failed to load appointments", "session_id", sess.ID(), "error", res.Err, "stale", res.Stale)
	}
	h.renderer.Render(w, r, http.StatusOK, "mine", "My Appointments", mineView{
		Appointments: res.Value,
		Stale:        res.Stale,
		LoadFailed:   res.Failed(),
	}, WithRefresh(querycache.IntervalMyAppointments))
}
