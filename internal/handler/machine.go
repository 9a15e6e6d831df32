package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"agent-hub/internal/middleware"
	"agent-hub/internal/model"
	"agent-hub/internal/store"
	syncengine "agent-hub/internal/sync"
)

type MachineHandler struct {
	Engine *syncengine.Engine
}

type upsertMachineBody struct {
	ID          string  `json:"id"`
	Metadata    string  `json:"metadata"`
	DaemonState *string `json:"daemonState"`
}

func machineJSON(m model.Machine) gin.H {
	return gin.H{
		"id":                 m.ID,
		"createdAt":          m.CreatedAt,
		"updatedAt":          m.UpdatedAt,
		"metadata":           m.Metadata,
		"metadataVersion":    m.MetadataVersion,
		"daemonState":        m.DaemonState,
		"daemonStateVersion": m.DaemonStateVersion,
		"active":             m.Active,
		"activeAt":           m.ActiveAt,
		"seq":                m.Seq,
	}
}

func (h *MachineHandler) GetOrCreate(c *gin.Context) {
	namespace, ok := middleware.NamespaceFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body upsertMachineBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	m, _, err := h.Engine.GetOrCreateMachine(body.ID, body.Metadata, body.DaemonState, namespace)
	if err != nil {
		if errors.Is(err, store.ErrInvalidArgument) || errors.Is(err, store.ErrInvalidNamespace) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage failure"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"machine": machineJSON(m)})
}

func (h *MachineHandler) List(c *gin.Context) {
	namespace, ok := middleware.NamespaceFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	machines, err := h.Engine.GetMachines(namespace)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage failure"})
		return
	}
	resp := make([]gin.H, 0, len(machines))
	for _, m := range machines {
		resp = append(resp, machineJSON(m))
	}
	c.JSON(http.StatusOK, gin.H{"machines": resp})
}

func (h *MachineHandler) Get(c *gin.Context) {
	namespace, ok := middleware.NamespaceFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	m, found, err := h.Engine.GetMachine(c.Param("id"), namespace)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage failure"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Machine not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"machine": machineJSON(m)})
}
