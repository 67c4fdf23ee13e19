package cli

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/roach88/jsonsync/internal/mark"
	"github.com/roach88/jsonsync/internal/op"
	"github.com/roach88/jsonsync/internal/replica"
	"github.com/roach88/jsonsync/internal/value"
)

// PatchEdit is one edit in a POST /patch body.
//
// Chain continues the transaction of the previous edit in the same body.
// After names a mark this replica authored earlier, for chaining across
// requests. Setting both is an error.
type PatchEdit struct {
	Op    string    `json:"op"`
	Path  string    `json:"path"`
	From  string    `json:"from,omitempty"`
	Value value.Box `json:"value"`
	Count int       `json:"count,omitempty"`
	Chain bool      `json:"chain,omitempty"`
	After string    `json:"after,omitempty"`
}

// PatchResult reports what one edit did.
type PatchResult struct {
	Op      string `json:"op"`
	Mark    string `json:"mark,omitempty"`
	Applied bool   `json:"applied"`
}

// PatchResponse is the body POST /patch answers with. When an edit fails
// the edits before it stay applied, Results lists them and Failed is the
// failing edit's index.
type PatchResponse struct {
	Results []PatchResult `json:"results"`
	Digest  string        `json:"digest,omitempty"`
	Failed  *int          `json:"failed,omitempty"`
	Error   *CLIError     `json:"error,omitempty"`
}

// HistoryEntry is one element of GET /history.
type HistoryEntry struct {
	Op      op.Operation `json:"op"`
	Applied bool         `json:"applied"`
}

// RouterConfig selects which endpoints NewRouter mounts besides /doc,
// /patch, /history and /healthz.
type RouterConfig struct {
	WebSocket gin.HandlerFunc // mounted at /ws when set
	Metrics   http.Handler    // mounted at /metrics when set
	Logger    zerolog.Logger
}

// NewRouter builds the HTTP surface of a served replica.
func NewRouter(r *replica.Replica, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(cfg.Logger))

	api := &documentAPI{replica: r}
	if cfg.WebSocket != nil {
		router.GET("/ws", cfg.WebSocket)
	}
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	router.GET("/doc", api.getDoc)
	router.GET("/history", api.getHistory)
	router.POST("/patch", api.patch)
	router.GET("/healthz", api.healthz)
	return router
}

func requestLogger(l zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

type documentAPI struct {
	replica *replica.Replica
}

func (a *documentAPI) getDoc(c *gin.Context) {
	path := c.Query("path")
	v, err := a.replica.Get(path)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": apiError(err)})
		return
	}
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": &CLIError{Code: ErrCodeNotFound, Message: "nothing at " + path}})
		return
	}
	digest, _ := a.replica.Digest()
	c.JSON(http.StatusOK, gin.H{"path": path, "value": value.Box{V: v}, "digest": digest})
}

func (a *documentAPI) getHistory(c *gin.Context) {
	entries := a.replica.History()
	out := make([]HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = HistoryEntry{Op: e.Op, Applied: e.Applied}
	}
	c.JSON(http.StatusOK, out)
}

func (a *documentAPI) healthz(c *gin.Context) {
	if err := a.replica.Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "failed", "replica": a.replica.Name(), "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "replica": a.replica.Name(), "id": a.replica.ID().String()})
}

func (a *documentAPI) patch(c *gin.Context) {
	var edits []PatchEdit
	if err := c.ShouldBindJSON(&edits); err != nil {
		c.JSON(http.StatusBadRequest, PatchResponse{
			Results: []PatchResult{},
			Error:   &CLIError{Code: ErrCodeInvalidInput, Message: err.Error()},
		})
		return
	}

	resp := PatchResponse{Results: make([]PatchResult, 0, len(edits))}
	var prev *op.Operation
	for i, e := range edits {
		out, applied, err := a.apply(e, prev)
		if err != nil {
			failed := i
			resp.Failed = &failed
			resp.Error = apiError(err)
			c.JSON(statusFor(err), resp)
			return
		}
		res := PatchResult{Op: string(out.Kind), Applied: applied}
		if out.Mark != nil {
			res.Mark = out.Mark.String()
		}
		resp.Results = append(resp.Results, res)
		prev = &out
	}
	resp.Digest, _ = a.replica.Digest()
	c.JSON(http.StatusOK, resp)
}

var errBadEdit = errors.New("bad edit")

func (a *documentAPI) apply(e PatchEdit, prev *op.Operation) (op.Operation, bool, error) {
	var opts []replica.EditOption
	switch {
	case e.Chain && e.After != "":
		return op.Operation{}, false, editError("chain and after are exclusive")
	case e.Chain:
		if prev == nil {
			return op.Operation{}, false, editError("chain needs a previous edit")
		}
		opts = append(opts, replica.WithAfter(*prev))
	case e.After != "":
		m, err := mark.ParseString(e.After)
		if err != nil {
			return op.Operation{}, false, editError(err.Error())
		}
		opts = append(opts, replica.WithAfter(op.Operation{Mark: m}))
	}
	if e.Count > 0 {
		opts = append(opts, replica.WithCount(e.Count))
	}

	switch op.Kind(e.Op) {
	case op.Add, op.Replace:
		if e.Value.IsZero() {
			return op.Operation{}, false, editError(e.Op + " needs a value")
		}
		if op.Kind(e.Op) == op.Add {
			return a.replica.Add(e.Path, e.Value.V, opts...)
		}
		return a.replica.Replace(e.Path, e.Value.V, opts...)
	case op.Remove:
		return a.replica.Remove(e.Path, opts...)
	case op.Move:
		return a.replica.Move(e.From, e.Path, opts...)
	}
	return op.Operation{}, false, editError("unknown op " + e.Op)
}

type badEditError struct{ msg string }

func (e *badEditError) Error() string { return e.msg }
func (e *badEditError) Unwrap() error { return errBadEdit }

func editError(msg string) error { return &badEditError{msg: msg} }

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadEdit), replica.IsInvalidAddressing(err):
		return http.StatusBadRequest
	case replica.IsInvalidChain(err):
		return http.StatusUnprocessableEntity
	}
	return http.StatusConflict
}

func apiError(err error) *CLIError {
	var rerr *replica.Error
	if errors.As(err, &rerr) {
		return &CLIError{Code: string(rerr.Code), Message: rerr.Message}
	}
	return &CLIError{Code: ErrCodeInvalidInput, Message: err.Error()}
}
