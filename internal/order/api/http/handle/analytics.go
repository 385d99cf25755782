package handle

import (
	"net/http"
	"strconv"
	"time"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/app/services"
	"kitchen-ledger/internal/order/domain/models"
	"kitchen-ledger/internal/xpkg/logger"
)

const defaultSeriesDays = 7

type AnalyticsHandler struct {
	analytics *services.AnalyticsService
	mylog     logger.Logger
}

func NewAnalyticsHandler(analytics *services.AnalyticsService, mylog logger.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, mylog: mylog}
}

func (ah *AnalyticsHandler) Today() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := ah.analytics.TodayVsTotal(r.Context())
		if err != nil {
			serviceError(w, ah.mylog.Action("today_failed"), err)
			return
		}
		jsonResponse(w, http.StatusOK, res)
	}
}

// Products groups revenue by product over from..to, both YYYY-MM-DD and
// defaulting to today.
func (ah *AnalyticsHandler) Products() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, err := ah.dayRange(r)
		if err != nil {
			jsonError(w, http.StatusBadRequest, err)
			return
		}
		res, err := ah.analytics.RevenueByProduct(r.Context(), from, to)
		if err != nil {
			serviceError(w, ah.mylog.Action("products_failed"), err)
			return
		}
		jsonResponse(w, http.StatusOK, res)
	}
}

// Revenue returns a daily series either for the last days days or for an
// explicit from..to range.
func (ah *AnalyticsHandler) Revenue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("from") != "" || q.Get("to") != "" {
			from, to, err := ah.dayRange(r)
			if err != nil {
				jsonError(w, http.StatusBadRequest, err)
				return
			}
			res, err := ah.analytics.RevenueSeriesRange(r.Context(), from, to)
			if err != nil {
				serviceError(w, ah.mylog.Action("revenue_failed"), err)
				return
			}
			jsonResponse(w, http.StatusOK, res)
			return
		}

		days := defaultSeriesDays
		if v := q.Get("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				jsonError(w, http.StatusBadRequest, core.Validation(core.ReasonInvalidRange, "days must be an integer: %q", v))
				return
			}
			days = n
		}
		res, err := ah.analytics.RevenueSeries(r.Context(), days)
		if err != nil {
			serviceError(w, ah.mylog.Action("revenue_failed"), err)
			return
		}
		jsonResponse(w, http.StatusOK, res)
	}
}

func (ah *AnalyticsHandler) Day() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, err := parseDay(r.PathValue("date"))
		if err != nil {
			jsonError(w, http.StatusBadRequest, err)
			return
		}
		agg, err := ah.analytics.DailyAggregate(r.Context(), day)
		if err != nil {
			serviceError(w, ah.mylog.Action("day_failed"), err)
			return
		}
		jsonResponse(w, http.StatusOK, agg)
	}
}

func (ah *AnalyticsHandler) Reconcile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, err := parseDay(r.PathValue("date"))
		if err != nil {
			jsonError(w, http.StatusBadRequest, err)
			return
		}
		res, err := ah.analytics.Reconcile(r.Context(), day)
		if err != nil {
			serviceError(w, ah.mylog.Action("reconcile_failed"), err)
			return
		}
		jsonResponse(w, http.StatusOK, res)
	}
}

func (ah *AnalyticsHandler) dayRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	today := ah.analytics.Today()
	from, to := today, today
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = parseDay(v); err != nil {
			return from, to, err
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = parseDay(v); err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}

func parseDay(v string) (time.Time, error) {
	day, err := models.ParseDay(v)
	if err != nil {
		return time.Time{}, core.Validation(core.ReasonInvalidRange, "date must be YYYY-MM-DD: %q", v)
	}
	return day, nil
}
