// Package handler exposes the dashboard REST and websocket surface on
// top of the service layer. Handlers are thin: bind, delegate, render.
package handler

import (
	"agentdeck/internal/events"
	"agentdeck/internal/service"
)

type Handler struct {
	Service *service.Service
	Bus     *events.Bus
}

func NewHandler(svc *service.Service, bus *events.Bus) *Handler {
	return &Handler{Service: svc, Bus: bus}
}
