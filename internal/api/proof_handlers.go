package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stepmesh/proof-engine/internal/engine"
	"github.com/stepmesh/proof-engine/internal/proof"
	"github.com/stepmesh/proof-engine/pkg/models"
)

const serviceVersion = "1.0.0"

func stamp() string {
	return time.Now().UTC().Format(proof.TimestampLayout)
}

// handleSubmit accepts {payload, signature} and runs the proof pipeline.
// The payload is decoded with UseNumber so the client's exact numeric text
// survives into the canonical signable string.
func (h *Handler) handleSubmit(c *gin.Context) {
	var req struct {
		Payload   json.RawMessage `json:"payload"`
		Signature string          `json:"signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.rejectJSON(c, engine.CodeInvalidPayload, "request body must be {payload, signature}")
		return
	}
	if len(req.Payload) == 0 || req.Signature == "" {
		h.rejectJSON(c, engine.CodeInvalidPayload, "payload and signature are both required")
		return
	}

	var payload models.ProofPayload
	dec := json.NewDecoder(bytes.NewReader(req.Payload))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		h.rejectJSON(c, engine.CodeInvalidPayload, "payload is not valid JSON: "+err.Error())
		return
	}

	result, rej := h.engine.Submit(c.Request.Context(), &payload, req.Signature)
	if rej != nil {
		// Flat rejection form: {code, message, timestamp}, with the
		// achieved confidence and per-signal reasons only where the
		// rejection carries them (LowConfidence, AttestationFailed).
		body := gin.H{
			"code":      rej.Code,
			"message":   rej.Message,
			"timestamp": stamp(),
		}
		if rej.Code == engine.CodeLowConfidence {
			body["confidence"] = rej.Confidence
		}
		if len(rej.Reasons) > 0 {
			body["reasons"] = rej.Reasons
		}
		c.JSON(engine.HTTPStatus(rej.Code), body)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) rejectJSON(c *gin.Context, code engine.Code, message string) {
	c.JSON(engine.HTTPStatus(code), gin.H{
		"code":      code,
		"message":   message,
		"timestamp": stamp(),
	})
}

// handleProofConfig echoes the thresholds and weights in force, so clients
// can display the rules they are scored against.
func (h *Handler) handleProofConfig(c *gin.Context) {
	w := h.engine.Weights()
	c.JSON(http.StatusOK, gin.H{
		"gpsMaxAccuracyM":     h.cfg.GpsMaxAccuracyM,
		"speedLimitMps":       h.cfg.SpeedLimitMps,
		"moratoriumMs":        h.cfg.Moratorium.Milliseconds(),
		"acceptanceThreshold": w.Threshold,
		"requireAttestation":  h.cfg.RequireAttestation,
		"weights": gin.H{
			"signature":   w.Signature,
			"gpsAccuracy": w.GpsAccuracy,
			"speed":       w.Speed,
			"moratorium":  w.Moratorium,
			"attestation": w.Attestation,
			"gnssRaw":     w.GnssRaw,
			"cellTower":   w.CellTower,
			"wifi":        w.Wifi,
			"witness":     w.Witness,
		},
		"timestamp": stamp(),
	})
}

// handleStream upgrades to a websocket feed of accepted clicks and
// subdivisions.
func (h *Handler) handleStream(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "stream unavailable",
			"timestamp": stamp(),
		})
		return
	}
	h.hub.Subscribe(c)
}

// handleAccount reports a miner balance. Unknown addresses read as zero,
// matching the lazy-creation lifecycle of account rows.
func (h *Handler) handleAccount(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "database unavailable",
			"timestamp": stamp(),
		})
		return
	}
	address := strings.ToLower(c.Param("address"))
	balance, err := h.store.GetBalance(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":      engine.CodeInternalError,
			"message":   "balance lookup failed",
			"timestamp": stamp(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":      address,
		"balance":      engine.FormatStep(balance),
		"balanceMicro": balance.String(),
		"unit":         "STEP",
		"timestamp":    stamp(),
	})
}

func (h *Handler) handleHealth(c *gin.Context) {
	dbHealth := models.DBHealth{Status: "disconnected"}
	if h.store != nil {
		dbHealth = h.store.Health(c.Request.Context())
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":          dbHealth.Status == "connected",
		"service":     "stepmesh-proof-engine",
		"version":     serviceVersion,
		"environment": h.cfg.Environment,
		"database":    dbHealth,
		"timestamp":   stamp(),
	})
}
