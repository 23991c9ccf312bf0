package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/webcanary/webcanary/internal/registry"
)

// Api exposes the target registry CRUD surface.
type Api struct {
	store registry.Store
}

func NewApi(router *gin.Engine, store registry.Store) *Api {
	api := &Api{store: store}
	api.setupRouters(router)
	return api
}

func (api *Api) setupRouters(router *gin.Engine) {
	router.GET("/v1/targets", api.ListTargets)
	router.POST("/v1/targets", api.CreateTarget)
	router.GET("/v1/targets/:id", api.GetTarget)
	router.PUT("/v1/targets/:id", api.UpdateTarget)
	router.DELETE("/v1/targets/:id", api.DeleteTarget)
}

type createTargetRequest struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Enabled *bool  `json:"enabled"`
}

type updateTargetRequest struct {
	Name    *string `json:"name"`
	URL     *string `json:"url"`
	Enabled *bool   `json:"enabled"`
}

func (api *Api) ListTargets(c *gin.Context) {
	targets, err := api.store.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("list targets failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list targets"})
		return
	}
	if targets == nil {
		targets = []registry.Target{}
	}
	c.JSON(http.StatusOK, gin.H{"targets": targets, "count": len(targets)})
}

func (api *Api) GetTarget(c *gin.Context) {
	t, err := api.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeStoreError(c, err, "get target")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (api *Api) CreateTarget(c *gin.Context) {
	var req createTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	t, err := api.store.Create(c.Request.Context(), req.Name, req.URL, enabled)
	if err != nil {
		writeStoreError(c, err, "create target")
		return
	}
	log.Info().Str("target", t.ID).Str("name", t.Name).Msg("target created")
	c.JSON(http.StatusCreated, t)
}

func (api *Api) UpdateTarget(c *gin.Context) {
	var req updateTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}
	t, err := api.store.Update(c.Request.Context(), c.Param("id"), registry.Update{
		Name:    req.Name,
		URL:     req.URL,
		Enabled: req.Enabled,
	})
	if err != nil {
		writeStoreError(c, err, "update target")
		return
	}
	log.Info().Str("target", t.ID).Msg("target updated")
	c.JSON(http.StatusOK, t)
}

func (api *Api) DeleteTarget(c *gin.Context) {
	id := c.Param("id")
	if err := api.store.Delete(c.Request.Context(), id); err != nil {
		writeStoreError(c, err, "delete target")
		return
	}
	log.Info().Str("target", id).Msg("target deleted")
	c.JSON(http.StatusOK, gin.H{"message": "target " + id + " deleted"})
}

func writeStoreError(c *gin.Context, err error, op string) {
	var verr *registry.ValidationError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "target not found"})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	default:
		log.Error().Err(err).Str("op", op).Msg("registry operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
