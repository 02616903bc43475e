package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aviarydata/aviary/internal/domain"
	"github.com/aviarydata/aviary/internal/service"
)

// CollectionHandler exposes collection management.
type CollectionHandler struct {
	collections service.CollectionService
}

func NewCollectionHandler(collections service.CollectionService) *CollectionHandler {
	return &CollectionHandler{collections: collections}
}

type CreateCollectionRequest struct {
	Name         string `json:"name" binding:"required"`
	Organization string `json:"organization"`
	ContactInfo  string `json:"contactInfo"`
	Description  string `json:"description"`
}

func (h *CollectionHandler) List(c *gin.Context) {
	collections, err := h.collections.List(c.Request.Context())
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Could not list collections")
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": collections})
}

func (h *CollectionHandler) Get(c *gin.Context) {
	col, err := h.collections.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrCollectionNotFound) {
			abortWithError(c, http.StatusNotFound, err.Error())
		} else {
			abortWithError(c, http.StatusInternalServerError, "Could not load collection")
		}
		return
	}
	c.JSON(http.StatusOK, col)
}

// Create registers a collection owned by the caller.
func (h *CollectionHandler) Create(c *gin.Context) {
	username, err := getUsernameFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to identify caller")
		return
	}

	var req CreateCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	col, err := h.collections.Create(c.Request.Context(), req.Name, req.Organization, username)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Could not create collection")
		return
	}
	if req.ContactInfo != "" || req.Description != "" {
		col.ContactInfo = req.ContactInfo
		col.Description = req.Description
		if err := h.collections.Update(c.Request.Context(), username, *col); err != nil {
			abortWithError(c, http.StatusInternalServerError, "Could not save collection details")
			return
		}
	}
	c.JSON(http.StatusCreated, col)
}

// Update replaces a collection's descriptive fields and access list.
func (h *CollectionHandler) Update(c *gin.Context) {
	username, err := getUsernameFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to identify caller")
		return
	}

	var col domain.Collection
	if err := c.ShouldBindJSON(&col); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}
	col.ID = c.Param("id")

	if err := h.collections.Update(c.Request.Context(), username, col); err != nil {
		switch {
		case errors.Is(err, service.ErrCollectionNotFound):
			abortWithError(c, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrNotOwner):
			abortWithError(c, http.StatusForbidden, err.Error())
		default:
			abortWithError(c, http.StatusInternalServerError, "Could not update collection")
		}
		return
	}
	c.JSON(http.StatusOK, col)
}
