package handle

import (
	"net/http"
	"strconv"
	"time"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/app/services"
	"kitchen-ledger/internal/order/domain/dto"
	"kitchen-ledger/internal/order/domain/models"
	"kitchen-ledger/internal/xpkg/logger"
)

type OrderHandler struct {
	orderService *services.OrderService
	mylog        logger.Logger
}

func NewOrderHandler(orderService *services.OrderService, mylog logger.Logger) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		mylog:        mylog,
	}
}

func (oh *OrderHandler) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.OrderRequest
		if err := decodeJSON(r, &req); err != nil {
			oh.mylog.Action("parse_failed").Debug("Failed to parse order", "error", err.Error())
			jsonError(w, http.StatusBadRequest, err)
			return
		}
		oh.mylog.Action("received").Debug("Received order", "fulfillment_type", req.Type, "number_of_items", len(req.Items))

		order, err := oh.orderService.Create(r.Context(), req)
		if err != nil {
			serviceError(w, oh.mylog.Action("create_failed"), err)
			return
		}
		jsonResponse(w, http.StatusCreated, order)
	}
}

func (oh *OrderHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := oh.orderService.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			serviceError(w, oh.mylog.Action("get_failed"), err)
			return
		}
		jsonResponse(w, http.StatusOK, order)
	}
}

// List accepts status, fulfillment_type, from, to (RFC 3339) and limit.
func (oh *OrderHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseOrderFilter(r)
		if err != nil {
			jsonError(w, http.StatusBadRequest, err)
			return
		}
		orders, err := oh.orderService.List(r.Context(), filter)
		if err != nil {
			serviceError(w, oh.mylog.Action("list_failed"), err)
			return
		}
		jsonResponse(w, http.StatusOK, orders)
	}
}

func (oh *OrderHandler) Transition() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.TransitionRequest
		if err := decodeJSON(r, &req); err != nil {
			jsonError(w, http.StatusBadRequest, err)
			return
		}
		order, err := oh.orderService.Transition(r.Context(), r.PathValue("id"), req)
		if err != nil {
			serviceError(w, oh.mylog.Action("transition_failed"), err)
			return
		}
		jsonResponse(w, http.StatusOK, order)
	}
}

func (oh *OrderHandler) Invoice() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.InvoiceRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				jsonError(w, http.StatusBadRequest, err)
				return
			}
		}
		order, err := oh.orderService.ValidateInvoice(r.Context(), r.PathValue("id"), req)
		if err != nil {
			serviceError(w, oh.mylog.Action("invoice_failed"), err)
			return
		}
		jsonResponse(w, http.StatusOK, order)
	}
}

func (oh *OrderHandler) History() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logs, err := oh.orderService.History(r.Context(), r.PathValue("id"))
		if err != nil {
			serviceError(w, oh.mylog.Action("history_failed"), err)
			return
		}
		jsonResponse(w, http.StatusOK, logs)
	}
}

func parseOrderFilter(r *http.Request) (models.OrderFilter, error) {
	var (
		q      = r.URL.Query()
		filter models.OrderFilter
		err    error
	)
	if v := q.Get("status"); v != "" {
		st := models.Status(v)
		filter.Status = &st
	}
	if v := q.Get("fulfillment_type"); v != "" {
		t := models.FulfillmentType(v)
		filter.Type = &t
	}
	if filter.From, err = parseInstant(q.Get("from")); err != nil {
		return filter, err
	}
	if filter.To, err = parseInstant(q.Get("to")); err != nil {
		return filter, err
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			return filter, core.Validation(core.ReasonInvalidRange, "limit must be a non-negative integer: %q", v)
		}
	}
	return filter, nil
}

func parseInstant(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, core.Validation(core.ReasonInvalidRange, "not an RFC 3339 time: %q", v)
	}
	return t, nil
}
