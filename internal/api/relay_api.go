package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-topic-relay/pkg/relay"
)

const livenessText = "FCM backend is up."

// maxBodyBytes caps every JSON request body at 100kb.
const maxBodyBytes = 100 << 10

// SubscriptionRegistry is the part of the registry the handlers use.
type SubscriptionRegistry interface {
	Subscribe(ctx context.Context, token, topic string) error
	Unsubscribe(ctx context.Context, token, topic string) error
	ListSubscriptions() relay.Subscriptions
}

// NotificationSender is the part of the dispatcher the handlers use.
type NotificationSender interface {
	Send(ctx context.Context, topic, message string) (string, error)
}

type RelayAPI struct {
	Registry SubscriptionRegistry
	Sender   NotificationSender
	Logger   *slog.Logger
}

func NewRelayAPI(registry SubscriptionRegistry, sender NotificationSender, logger *slog.Logger) *RelayAPI {
	return &RelayAPI{
		Registry: registry,
		Sender:   sender,
		Logger:   logger.With("component", "RelayAPI"),
	}
}

type SubscriptionRequest struct {
	Token string `json:"token"`
	Topic string `json:"topic"`
}

type SendRequest struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// LocationRequest accepts coordinates of any JSON type; they are only logged.
type LocationRequest struct {
	Latitude  any `json:"latitude"`
	Longitude any `json:"longitude"`
}

type resultResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	ID      string `json:"id,omitempty"`
}

type subscriptionsResponse struct {
	Subscriptions relay.Subscriptions `json:"subscriptions"`
}

// Health answers the root liveness probe.
func (api *RelayAPI) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, livenessText)
}

func (api *RelayAPI) Subscribe(w http.ResponseWriter, r *http.Request) {
	api.handleSubscription(w, r, "subscribe", api.Registry.Subscribe)
}

func (api *RelayAPI) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	api.handleSubscription(w, r, "unsubscribe", api.Registry.Unsubscribe)
}

func (api *RelayAPI) ListSubscriptions(w http.ResponseWriter, _ *http.Request) {
	response.WriteJSON(w, http.StatusOK, subscriptionsResponse{Subscriptions: api.Registry.ListSubscriptions()})
}

func (api *RelayAPI) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decodeBody(w, r, &req); err != nil {
		api.Logger.Warn("Send: JSON decode failed", "err", err)
		writeDecodeFailure(w, err)
		return
	}

	id, err := api.Sender.Send(r.Context(), req.Topic, req.Message)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, resultResponse{Success: true, ID: id})
}

// Location only records the report.
func (api *RelayAPI) Location(w http.ResponseWriter, r *http.Request) {
	var req LocationRequest
	if err := decodeBody(w, r, &req); err != nil {
		api.Logger.Warn("Location: JSON decode failed", "err", err)
		writeDecodeFailure(w, err)
		return
	}
	api.Logger.Info("Location received", "lat", req.Latitude, "lon", req.Longitude)
	response.WriteJSON(w, http.StatusOK, resultResponse{Success: true})
}

func (api *RelayAPI) handleSubscription(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	call func(ctx context.Context, token, topic string) error,
) {
	var req SubscriptionRequest
	if err := decodeBody(w, r, &req); err != nil {
		api.Logger.Warn("JSON decode failed", "op", op, "err", err)
		writeDecodeFailure(w, err)
		return
	}

	if err := call(r.Context(), req.Token, req.Topic); err != nil {
		if errors.Is(err, relay.ErrInvalidRequest) {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		api.Logger.Error("Subscription change failed", "op", op, "topic", req.Topic, "err", err)
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, resultResponse{Success: true})
}

// decodeBody treats an empty body as an empty object. Bodies over
// maxBodyBytes fail with *http.MaxBytesError.
func decodeBody(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dest)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeDecodeFailure(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeFailure(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeFailure(w, http.StatusBadRequest, "invalid json")
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	response.WriteJSON(w, status, resultResponse{Success: false, Error: msg})
}
