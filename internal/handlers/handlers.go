// Package handlers implements the report API endpoints.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/kubev2v/qemu-backup-harness/internal/store"
)

type Handler struct {
	store *store.Store
}

func New(st *store.Store) *Handler {
	return &Handler{store: st}
}

// Register wires the endpoints onto the API router group.
func (h *Handler) Register(router *gin.RouterGroup) {
	router.GET("/health", h.GetHealth)
	router.GET("/runs", h.GetRuns)
	router.GET("/runs/:id", h.GetRun)
}
