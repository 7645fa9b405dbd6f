package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"AgentSim/internal/agent"
	xerrors "AgentSim/internal/errors"
	"AgentSim/internal/sim"
)

const (
	defaultPopulation  = 100
	agentDetailActions = 10
)

type createAgentRequest struct {
	Name          string  `json:"name"`
	Personality   string  `json:"personality"`
	InitialWealth float64 `json:"initial_wealth"`
	RiskTolerance int     `json:"risk_tolerance"`
	Reputation    int     `json:"reputation"`
}

type createPopulationRequest struct {
	Count        int                `json:"count"`
	Distribution map[string]float64 `json:"personality_distribution"`
}

type startRequest struct {
	Ticks        int     `json:"ticks"`
	TickInterval float64 `json:"tick_interval"`
}

func (s *Server) handleRoot(c *gin.Context) {
	status := s.orch.Status()
	c.JSON(http.StatusOK, gin.H{
		"service":            serviceName,
		"version":            serviceVersion,
		"llm_provider":       status.Provider,
		"llm_model":          status.Model,
		"agent_count":        status.Agents,
		"state":              status.State,
		"simulation_running": running(status.State),
	})
}

func (s *Server) handleCreateAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	spec := agent.Spec{
		Name:          req.Name,
		Wealth:        req.InitialWealth,
		RiskTolerance: req.RiskTolerance,
		Reputation:    req.Reputation,
	}
	if req.Personality != "" {
		p, err := agent.ParsePersonality(req.Personality)
		if err != nil {
			writeError(c, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "未知的人格"))
			return
		}
		spec.Personality = p
	}
	a, err := s.orch.CreateAgent(c.Request.Context(), spec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a.View())
}

func (s *Server) handleCreatePopulation(c *gin.Context) {
	var req createPopulationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
			return
		}
	}
	if req.Count == 0 {
		req.Count = defaultPopulation
	}
	var dist map[agent.Personality]float64
	if len(req.Distribution) > 0 {
		dist = make(map[agent.Personality]float64, len(req.Distribution))
		for name, weight := range req.Distribution {
			p, err := agent.ParsePersonality(name)
			if err != nil {
				continue
			}
			dist[p] = weight
		}
	}
	created, err := s.orch.CreatePopulation(c.Request.Context(), req.Count, dist)
	if err != nil && len(created) == 0 {
		writeError(c, err)
		return
	}
	summaries := make([]gin.H, 0, len(created))
	for _, a := range created {
		summaries = append(summaries, gin.H{"id": a.ID, "name": a.Name, "personality": a.Personality})
	}
	c.JSON(http.StatusOK, gin.H{"created": len(created), "requested": req.Count, "agents": summaries})
}

func (s *Server) handleListAgents(c *gin.Context) {
	views := s.orch.Agents()
	c.JSON(http.StatusOK, gin.H{"count": len(views), "agents": views})
}

func (s *Server) handleGetAgent(c *gin.Context) {
	a, err := s.orch.Agent(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	mem := a.Memory()
	recent := mem.RecentActions()
	if len(recent) > agentDetailActions {
		recent = recent[len(recent)-agentDetailActions:]
	}
	c.JSON(http.StatusOK, gin.H{
		"agent": a.View(),
		"memory": gin.H{
			"recent_actions":    recent,
			"transaction_count": len(mem.Transactions()),
			"known_agents":      mem.KnownAgents(),
			"discourse_count":   len(mem.Discourse()),
		},
	})
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
			return
		}
	}
	cfg := s.orch.Config()
	if req.Ticks <= 0 {
		req.Ticks = cfg.Rounds
	}
	interval := cfg.RoundInterval
	if req.TickInterval > 0 {
		interval = time.Duration(req.TickInterval * float64(time.Second))
	}
	if err := s.orch.Start(s.runCtx, req.Ticks, interval); err != nil {
		writeErrorStatus(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "started",
		"ticks":         req.Ticks,
		"tick_interval": interval.Seconds(),
		"agent_count":   len(s.orch.Agents()),
	})
}

func (s *Server) handleStop(c *gin.Context) {
	if s.orch.Stop() {
		c.JSON(http.StatusOK, gin.H{"status": "stopping"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.orch.State()})
}

func (s *Server) handleStatus(c *gin.Context) {
	status := s.orch.Status()
	c.JSON(http.StatusOK, gin.H{
		"running":      running(status.State),
		"status":       status,
		"current_tick": status.Round,
		"agent_count":  status.Agents,
		"market_state": s.orch.Snapshot(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	st, err := s.orch.Stats()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleTick(c *gin.Context) {
	if len(s.orch.Agents()) == 0 {
		writeError(c, xerrors.New(xerrors.CodeInvalidArgument, "尚未创建代理"))
		return
	}
	// 一轮只能在轮次边界被打断，客户端断开不影响本轮执行。
	report, err := s.orch.RunRound(s.runCtx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tick":           report.Round,
		"snapshot_fresh": report.SnapshotFresh,
		"agent_count":    report.Agents,
		"executed":       report.Executed,
		"succeeded":      report.Succeeded,
		"parse_errors":   report.ParseErrors,
	})
}

func (s *Server) handleSummary(c *gin.Context) {
	if s.recorder == nil {
		writeError(c, xerrors.New(xerrors.CodeInitializationFailure, "未启用数据记录"))
		return
	}
	summary, err := s.recorder.Summary()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func running(st sim.State) bool {
	return st == sim.StateRunning || st == sim.StateStopping
}
