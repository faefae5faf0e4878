package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"AgentPair-Chain/internal/agent"
	xerrors "AgentPair-Chain/internal/errors"
	"AgentPair-Chain/internal/mailbox"
	"AgentPair-Chain/internal/observability/metrics"
)

const agentsPrefix = "/api/v1/agents/"

// Server 负责暴露只读的智能体状态接口与消息注入接口。
type Server struct {
	addr   string
	order  []string
	agents map[string]*agent.Agent
}

// AgentView 是智能体在接口中的表示。
type AgentView struct {
	Name      string         `json:"name"`
	Peer      string         `json:"peer,omitempty"`
	Running   bool           `json:"running"`
	Handlers  []string       `json:"handlers"`
	Behaviors []string       `json:"behaviors"`
	Stats     agent.Stats    `json:"stats"`
	State     map[string]any `json:"state,omitempty"`
}

// MessageRequest 是消息注入接口的请求体。
type MessageRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	From    string `json:"from"`
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, agents ...*agent.Agent) *Server {
	s := &Server{addr: addr, agents: make(map[string]*agent.Agent, len(agents))}
	for _, ag := range agents {
		if ag == nil {
			continue
		}
		if _, exists := s.agents[ag.Name()]; !exists {
			s.order = append(s.order, ag.Name())
		}
		s.agents[ag.Name()] = ag
	}
	return s
}

// Handler 返回挂载了全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc(agentsPrefix, s.handleAgentDetail)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	status := http.StatusOK
	for _, name := range s.order {
		if !s.agents[name].Running() {
			status = http.StatusServiceUnavailable
			break
		}
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(http.StatusText(status)))
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	views := make([]AgentView, 0, len(s.order))
	for _, name := range s.order {
		views = append(views, view(s.agents[name], false))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleAgentDetail 处理 /api/v1/agents/{name} 与 /api/v1/agents/{name}/messages。
func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, agentsPrefix), "/")
	if rest == "" {
		http.Error(w, "缺少智能体名称", http.StatusBadRequest)
		return
	}
	name, sub, _ := strings.Cut(rest, "/")
	ag, ok := s.agents[name]
	if !ok {
		http.Error(w, "智能体不存在", http.StatusNotFound)
		return
	}

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, view(ag, true))
	case "messages":
		if r.Method != http.MethodPost {
			http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
			return
		}
		s.handleInject(w, r, ag)
	default:
		http.Error(w, "未知的资源", http.StatusNotFound)
	}
}

// handleInject 将请求中的消息投递到智能体的收件箱。
func (s *Server) handleInject(w http.ResponseWriter, r *http.Request, ag *agent.Agent) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	from := req.From
	if from == "" {
		from = "api"
	}
	msg := mailbox.NewMessage(req.Type, req.Content, from)
	if err := ag.Inbox().Publish(r.Context(), msg); err != nil {
		status := http.StatusInternalServerError
		if xerrors.CodeOf(err) == mailbox.CodeQueueClosed {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

func view(ag *agent.Agent, withState bool) AgentView {
	v := AgentView{
		Name:      ag.Name(),
		Peer:      ag.Peer(),
		Running:   ag.Running(),
		Handlers:  ag.Handlers().Types(),
		Behaviors: ag.Behaviors().Names(),
		Stats:     ag.Stats(),
	}
	if withState {
		v.State = ag.Snapshot()
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
