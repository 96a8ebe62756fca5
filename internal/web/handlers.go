package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lucasnoah/stagecoach/internal/checkpoint"
)

type executeRequest struct {
	Content  string `json:"content" binding:"required"`
	Platform string `json:"platform"`
}

func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ex := s.engine.Start(req.Content, req.Platform)
	c.JSON(http.StatusAccepted, gin.H{
		"flow_id": ex.ID,
		"status":  ex.Status,
	})
}

func (s *Server) handleFlowStatus(c *gin.Context) {
	ex, err := s.engine.Status(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{
		"flow_id":       ex.ID,
		"status":        ex.Status,
		"current_stage": ex.CurrentStage,
		"progress":      ex.Progress(),
		"stage_results": ex.StageResults,
		"failed_stages": ex.FailedStages,
		"stage_errors":  ex.StageErrors,
		"error_message": ex.ErrorMessage,
		"created_at":    ex.CreatedAt,
		"updated_at":    ex.UpdatedAt,
	}
	if ex.ResumedFrom != "" {
		resp["resumed_from"] = ex.ResumedFrom
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleActiveFlows(c *gin.Context) {
	active := s.engine.ListActive()
	c.JSON(http.StatusOK, gin.H{
		"count":      len(active),
		"executions": active,
	})
}

func (s *Server) handleResume(c *gin.Context) {
	ex, err := s.engine.Resume(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"flow_id":      ex.ID,
		"resumed_from": ex.ResumedFrom,
		"status":       ex.Status,
	})
}

func (s *Server) handleFlowEvents(c *gin.Context) {
	if s.database == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event history requires a database"})
		return
	}
	events, err := s.database.GetFlowHistory(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleEvict(c *gin.Context) {
	if err := s.engine.Evict(c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type checkpointCreateRequest struct {
	Content    string `json:"content" binding:"required"`
	Platform   string `json:"platform"`
	Checkpoint string `json:"checkpoint" binding:"required"`
	UserNotes  string `json:"user_notes"`
}

func (s *Server) handleCheckpointCreate(c *gin.Context) {
	var req checkpointCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cp, err := s.manager.Create(checkpoint.CreateOpts{
		Label:    checkpoint.Label(req.Checkpoint),
		Platform: req.Platform,
		Notes:    req.UserNotes,
		Content:  req.Content,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"checkpoint_id": cp.ID,
		"status":        cp.Status,
	})
}

func (s *Server) handleCheckpointStatus(c *gin.Context) {
	cp, err := s.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(checkpointErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cp)
}

type interveneRequest struct {
	UserInput string `json:"user_input"`
	Finalize  bool   `json:"finalize"`
	Actor     string `json:"actor"`
}

func (s *Server) handleIntervene(c *gin.Context) {
	var req interveneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cp, err := s.manager.Intervene(c.Param("id"), checkpoint.InterveneOpts{
		Input:    req.UserInput,
		Finalize: req.Finalize,
		Actor:    req.Actor,
	})
	if err != nil {
		var nf *checkpoint.NotFoundError
		if errors.As(err, &nf) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (s *Server) handleCheckpointHistory(c *gin.Context) {
	events, err := s.manager.History(c.Param("id"))
	if err != nil {
		c.JSON(checkpointErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleCheckpointActive(c *gin.Context) {
	var (
		cps []*checkpoint.Checkpoint
		err error
	)
	if c.Query("all") == "true" {
		cps, err = s.manager.List()
	} else {
		cps, err = s.manager.ListActive()
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":       len(cps),
		"checkpoints": cps,
	})
}

type sequenceStartRequest struct {
	Content      string `json:"content" binding:"required"`
	Platform     string `json:"platform"`
	MaxTotalTime string `json:"max_total_time"` // overrides the configured budget
}

func (s *Server) handleSequenceStart(c *gin.Context) {
	var req sequenceStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var budget time.Duration
	if req.MaxTotalTime != "" {
		d, err := time.ParseDuration(req.MaxTotalTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_total_time: " + err.Error()})
			return
		}
		budget = d
	}
	seq, err := s.sequences.Start(req.Content, req.Platform, budget)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"flow_id": seq.ID,
		"status":  seq.Outcome,
	})
}

func (s *Server) handleSequenceStatus(c *gin.Context) {
	seq, err := s.sequences.Status(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.sequenceResponse(seq))
}

// sequenceResponse embeds the sequence's checkpoint snapshots, in label
// order, so callers see the whole run in one read.
func (s *Server) sequenceResponse(seq *checkpoint.Sequence) gin.H {
	checkpoints := make([]*checkpoint.Checkpoint, 0, len(seq.CheckpointIDs))
	for _, label := range checkpoint.SequenceLabels {
		id, ok := seq.CheckpointIDs[label]
		if !ok {
			continue
		}
		cp, err := s.manager.Get(id)
		if err != nil {
			continue
		}
		checkpoints = append(checkpoints, cp)
	}
	resp := gin.H{
		"flow_id":     seq.ID,
		"status":      seq.Outcome,
		"checkpoints": checkpoints,
		"started_at":  seq.StartedAt,
	}
	if len(seq.Skipped) > 0 {
		resp["skipped"] = seq.Skipped
	}
	if seq.FinishedAt != nil {
		resp["finished_at"] = seq.FinishedAt
	}
	return resp
}

func (s *Server) handlePerformance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stages": s.monitor.Snapshot()})
}

func (s *Server) handleCircuitBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": s.monitor.BreakerSnapshots()})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"active_flows": len(s.engine.ListActive()),
	})
}

func checkpointErrStatus(err error) int {
	var nf *checkpoint.NotFoundError
	if errors.As(err, &nf) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
