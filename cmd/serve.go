package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/rank-tracker/internal/checker"
	"github.com/sells-group/rank-tracker/internal/geogrid"
	"github.com/sells-group/rank-tracker/internal/keyword"
	"github.com/sells-group/rank-tracker/internal/model"
	"github.com/sells-group/rank-tracker/internal/schedule"
)

var (
	servePort       int
	serveNoDispatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and scheduler loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if !serveNoDispatch {
			go func() {
				if err := env.Dispatcher.Start(ctx); err != nil {
					zap.L().Error("dispatcher exited", zap.Error(err))
				}
			}()
		}

		api := &apiServer{env: env}
		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.routes(),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoDispatch, "no-dispatch", false, "serve the API without the scheduler loop")
	rootCmd.AddCommand(serveCmd)
}

type apiServer struct {
	env *appEnv
}

func (a *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/configs", func(r chi.Router) {
			r.Post("/", a.createConfig)
			r.Get("/", a.listConfigs)
			r.Route("/{configID}", func(r chi.Router) {
				r.Get("/", a.getConfig)
				r.Put("/", a.updateConfig)
				r.Get("/grid", a.getGrid)
				r.Post("/run", a.runNow)
				r.Post("/terms", a.createTerm)
				r.Get("/terms", a.listTerms)
				r.Put("/terms/{termID}", a.setTermEnabled)
				r.Get("/results", a.listResults)
				r.Get("/summary", a.getSummary)
			})
		})
		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Get("/ledger", a.listLedger)
		})
		r.Route("/concepts/{conceptID}/unified-schedule", func(r chi.Router) {
			r.Get("/", a.scheduleState)
			r.Post("/preview", a.previewUnified)
			r.Post("/", a.enableUnified)
			r.Delete("/", a.disableUnified)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type configRequest struct {
	AccountID   string    `json:"account_id"`
	BusinessID  string    `json:"business_id"`
	Name        string    `json:"name"`
	CenterLat   float64   `json:"center_lat"`
	CenterLng   float64   `json:"center_lng"`
	RadiusMiles float64   `json:"radius_miles"`
	GridSize    int       `json:"grid_size"`
	Devices     []string  `json:"devices"`
	Frequency   string    `json:"frequency"`
	DayOfWeek   int       `json:"day_of_week"`
	DayOfMonth  int       `json:"day_of_month"`
	HourUTC     int       `json:"hour_utc"`
	StartFrom   time.Time `json:"start_from,omitempty"`
}

func (a *apiServer) createConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}
	if req.AccountID == "" || req.BusinessID == "" {
		writeError(w, http.StatusBadRequest, eris.New("account_id and business_id are required"))
		return
	}

	points, err := geogrid.Points(req.CenterLat, req.CenterLng, req.RadiusMiles, req.GridSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	freq := model.Frequency(req.Frequency)
	from := req.StartFrom
	if from.IsZero() {
		from = time.Now().UTC()
	}
	next, err := schedule.NextRun(freq, req.DayOfWeek, req.DayOfMonth, req.HourUTC, from)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	devices := make([]model.Device, 0, len(req.Devices))
	for _, d := range req.Devices {
		devices = append(devices, model.Device(d))
	}
	if len(devices) == 0 {
		devices = []model.Device{model.DeviceDesktop}
	}

	now := time.Now().UTC()
	cfgRow := model.TrackingConfig{
		ID:              uuid.NewString(),
		AccountID:       req.AccountID,
		BusinessID:      req.BusinessID,
		Name:            req.Name,
		CenterLat:       req.CenterLat,
		CenterLng:       req.CenterLng,
		RadiusMiles:     req.RadiusMiles,
		GridSize:        req.GridSize,
		Points:          points,
		Devices:         devices,
		Frequency:       freq,
		DayOfWeek:       req.DayOfWeek,
		DayOfMonth:      req.DayOfMonth,
		HourUTC:         req.HourUTC,
		NextScheduledAt: &next,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.env.Store.CreateConfig(r.Context(), cfgRow); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfgRow)
}

func (a *apiServer) listConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := a.env.Store.ListConfigs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

func (a *apiServer) loadConfig(w http.ResponseWriter, r *http.Request) *model.TrackingConfig {
	cfgRow, err := a.env.Store.GetConfig(r.Context(), chi.URLParam(r, "configID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil
	}
	if cfgRow == nil {
		writeError(w, http.StatusNotFound, eris.New("config not found"))
		return nil
	}
	return cfgRow
}

func (a *apiServer) getConfig(w http.ResponseWriter, r *http.Request) {
	if cfgRow := a.loadConfig(w, r); cfgRow != nil {
		writeJSON(w, http.StatusOK, cfgRow)
	}
}

func (a *apiServer) updateConfig(w http.ResponseWriter, r *http.Request) {
	existing := a.loadConfig(w, r)
	if existing == nil {
		return
	}

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}

	// Grid geometry is recomputed whenever center, radius, or size change.
	points, err := geogrid.Points(req.CenterLat, req.CenterLng, req.RadiusMiles, req.GridSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	next, err := schedule.NextRun(model.Frequency(req.Frequency), req.DayOfWeek, req.DayOfMonth, req.HourUTC, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	existing.BusinessID = req.BusinessID
	existing.Name = req.Name
	existing.CenterLat = req.CenterLat
	existing.CenterLng = req.CenterLng
	existing.RadiusMiles = req.RadiusMiles
	existing.GridSize = req.GridSize
	existing.Points = points
	existing.Frequency = model.Frequency(req.Frequency)
	existing.DayOfWeek = req.DayOfWeek
	existing.DayOfMonth = req.DayOfMonth
	existing.HourUTC = req.HourUTC
	existing.NextScheduledAt = &next
	if len(req.Devices) > 0 {
		existing.Devices = existing.Devices[:0]
		for _, d := range req.Devices {
			existing.Devices = append(existing.Devices, model.Device(d))
		}
	}

	if err := a.env.Store.UpdateConfig(r.Context(), *existing); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (a *apiServer) getGrid(w http.ResponseWriter, r *http.Request) {
	cfgRow := a.loadConfig(w, r)
	if cfgRow == nil {
		return
	}
	g, err := geojson.Marshal(geogrid.Geometry(cfgRow.Points))
	if err != nil {
		writeError(w, http.StatusInternalServerError, eris.Wrap(err, "encode grid geometry"))
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(g)
}

func (a *apiServer) runNow(w http.ResponseWriter, r *http.Request) {
	cfgRow := a.loadConfig(w, r)
	if cfgRow == nil {
		return
	}

	go func() {
		out, err := a.env.Checker.Run(context.Background(), *cfgRow)
		switch {
		case eris.Is(err, checker.ErrRunInProgress):
			zap.L().Info("run-now ignored, already running", zap.String("config_id", cfgRow.ID))
		case err != nil:
			zap.L().Error("run-now failed", zap.String("config_id", cfgRow.ID), zap.Error(err))
		default:
			zap.L().Info("run-now complete",
				zap.String("config_id", cfgRow.ID),
				zap.String("run_id", out.RunID))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "config_id": cfgRow.ID})
}

func (a *apiServer) createTerm(w http.ResponseWriter, r *http.Request) {
	cfgRow := a.loadConfig(w, r)
	if cfgRow == nil {
		return
	}

	var req struct {
		Term         string `json:"term"`
		ScheduleMode string `json:"schedule_mode"`
		Frequency    string `json:"frequency"`
		DayOfWeek    int    `json:"day_of_week"`
		DayOfMonth   int    `json:"day_of_month"`
		HourUTC      int    `json:"hour_utc"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}

	canonical, err := keyword.Canonical(req.Term)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	mode := model.TermScheduleMode(req.ScheduleMode)
	if mode == "" {
		mode = model.TermInherit
	}

	term := model.TrackedTerm{
		ID:           uuid.NewString(),
		ConfigID:     cfgRow.ID,
		Term:         canonical,
		Enabled:      true,
		ScheduleMode: mode,
		CreatedAt:    time.Now().UTC(),
	}
	if mode == model.TermCustom {
		if _, err := schedule.NextRun(model.Frequency(req.Frequency), req.DayOfWeek, req.DayOfMonth, req.HourUTC, time.Now().UTC()); err != nil {
			writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid custom schedule"))
			return
		}
		term.Frequency = model.Frequency(req.Frequency)
		term.DayOfWeek = req.DayOfWeek
		term.DayOfMonth = req.DayOfMonth
		term.HourUTC = req.HourUTC
	}
	if err := a.env.Store.CreateTerm(r.Context(), term); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, term)
}

func (a *apiServer) setTermEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}

	termID := chi.URLParam(r, "termID")
	if err := a.env.Store.SetTermEnabled(r.Context(), termID, req.Enabled); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"term_id": termID, "enabled": req.Enabled})
}

func (a *apiServer) listTerms(w http.ResponseWriter, r *http.Request) {
	terms, err := a.env.Store.ListTerms(r.Context(), chi.URLParam(r, "configID"), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, terms)
}

func dateParam(r *http.Request) string {
	if d := r.URL.Query().Get("date"); d != "" {
		return d
	}
	return time.Now().UTC().Format("2006-01-02")
}

func (a *apiServer) listResults(w http.ResponseWriter, r *http.Request) {
	results, err := a.env.Store.ListCheckResults(r.Context(), chi.URLParam(r, "configID"), dateParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (a *apiServer) getSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := a.env.Store.GetDailySummary(r.Context(), chi.URLParam(r, "configID"), dateParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sum == nil {
		writeError(w, http.StatusNotFound, eris.New("no summary for date"))
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *apiServer) listLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := a.env.Store.ListLedgerEntries(r.Context(), chi.URLParam(r, "accountID"), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type unifiedRequest struct {
	CheckTypes []string `json:"check_types"`
	Frequency  string   `json:"frequency"`
	DayOfWeek  int      `json:"day_of_week"`
	DayOfMonth int      `json:"day_of_month"`
	HourUTC    int      `json:"hour_utc"`
}

func (r unifiedRequest) checkTypes() []model.CheckType {
	out := make([]model.CheckType, 0, len(r.CheckTypes))
	for _, t := range r.CheckTypes {
		out = append(out, model.CheckType(t))
	}
	return out
}

func (a *apiServer) scheduleState(w http.ResponseWriter, r *http.Request) {
	conceptID := chi.URLParam(r, "conceptID")
	state, err := a.env.Schedules.State(r.Context(), conceptID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"concept_id": conceptID, "state": string(state)})
}

func (a *apiServer) previewUnified(w http.ResponseWriter, r *http.Request) {
	var req unifiedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}
	dups, err := a.env.Schedules.Preview(r.Context(), chi.URLParam(r, "conceptID"), req.checkTypes())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"would_pause": dups})
}

func (a *apiServer) enableUnified(w http.ResponseWriter, r *http.Request) {
	var req unifiedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}

	us, err := a.env.Schedules.Enable(r.Context(), model.UnifiedSchedule{
		ConceptID:  chi.URLParam(r, "conceptID"),
		CheckTypes: req.checkTypes(),
		Frequency:  model.Frequency(req.Frequency),
		DayOfWeek:  req.DayOfWeek,
		DayOfMonth: req.DayOfMonth,
		HourUTC:    req.HourUTC,
	})
	if err != nil {
		if eris.Is(err, schedule.ErrUnifiedExists) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, us)
}

func (a *apiServer) disableUnified(w http.ResponseWriter, r *http.Request) {
	us, err := a.env.Store.GetUnifiedScheduleByConcept(r.Context(), chi.URLParam(r, "conceptID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if us == nil {
		writeError(w, http.StatusNotFound, eris.New("no unified schedule for concept"))
		return
	}
	if err := a.env.Schedules.Disable(r.Context(), us.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}
