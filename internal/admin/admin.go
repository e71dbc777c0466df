// Package admin implements the system HTTP control surface: a small set
// of GET-only endpoints under a configurable path prefix for operational
// control (shutdown, module load/unload) and CSV/metrics introspection
// (modules, connections, profile, Prometheus metrics).
package admin

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/arcflux/cbppcore/internal/module"
	"github.com/arcflux/cbppcore/internal/obslog"
	"github.com/arcflux/cbppcore/internal/observability"
	"github.com/arcflux/cbppcore/internal/profiler"
)

// Dependencies bundles the singletons the control surface reports on and
// acts on. Any of them may be nil; handlers degrade to an empty listing
// or a no-op rather than panicking.
type Dependencies struct {
	Modules      *module.Manager
	Builtins     *module.BuiltinRegistry
	Connections  *ConnectionTracker
	OnShutdown   func()
	OnSetLogMask func(toDisable, toEnable uint64)

	// AuthUserPass is a "user:pass" credential gating every route under
	// the mount point with HTTP basic auth. Empty disables auth.
	AuthUserPass string
}

// Server is the gin-backed system HTTP control surface.
type Server struct {
	router *gin.Engine
	deps   Dependencies
	log    zerolog.Logger
}

// New builds a Server rooted at path (e.g. "~/sys/" from config,
// normalized to a leading "/"-relative mount point here since Go's HTTP
// mux has no notion of a home-directory path).
func New(path string, deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())

	s := &Server{router: router, deps: deps, log: obslog.With("admin")}

	router.Use(observability.RequestLogger(s.log))
	router.Use(observability.RequestMetricsMiddleware())

	mount := normalizeMount(path)
	group := router.Group(mount)
	group.Use(cors.Default())
	if accounts := basicAuthAccounts(deps.AuthUserPass); accounts != nil {
		group.Use(gin.BasicAuth(accounts))
	}
	group.GET("/shutdown", s.onShutdown)
	group.GET("/load_module", s.onLoadModule)
	group.GET("/unload_module", s.onUnloadModule)
	group.GET("/modules", s.onModules)
	group.GET("/builtins", s.onBuiltins)
	group.GET("/invoke_builtin", s.onInvokeBuiltin)
	group.GET("/connections", s.onConnections)
	group.GET("/profile", s.onProfile)
	group.GET("/set_log_mask", s.onSetLogMask)
	group.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// Handler returns the underlying http.Handler, for use with http.Server.
func (s *Server) Handler() http.Handler { return s.router }

// basicAuthAccounts parses a "user:pass" credential into the single-entry
// gin.Accounts map BasicAuth expects, or nil if raw is empty or malformed.
func basicAuthAccounts(raw string) gin.Accounts {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	user, pass, ok := strings.Cut(raw, ":")
	if !ok || user == "" {
		return nil
	}
	return gin.Accounts{user: pass}
}

func normalizeMount(path string) string {
	p := strings.TrimSpace(path)
	if p == "" || p == "~/sys" || p == "~/sys/" {
		p = "/sys"
	}
	p = strings.TrimPrefix(p, "~")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimSuffix(p, "/")
}

func (s *Server) onShutdown(c *gin.Context) {
	s.log.Warn().Msg("received shutdown request over the admin surface")
	c.Status(http.StatusOK)
	if s.deps.OnShutdown != nil {
		go s.deps.OnShutdown()
	}
}

func (s *Server) onLoadModule(c *gin.Context) {
	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if s.deps.Modules == nil || s.deps.Modules.LoadNoThrow(name) == nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) onUnloadModule(c *gin.Context) {
	realPath := strings.TrimSpace(c.Query("real_path"))
	if realPath == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if s.deps.Modules == nil || !s.deps.Modules.UnloadByPath(realPath) {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) onModules(c *gin.Context) {
	rows := [][]string{{"real_path", "base_addr", "ref_count"}}
	if s.deps.Modules != nil {
		for _, m := range s.deps.Modules.Snapshot() {
			rows = append(rows, []string{
				m.RealPath,
				strconv.FormatUint(uint64(m.BaseAddr), 16),
				strconv.Itoa(m.RefCount),
			})
		}
	}
	writeCSV(c, "modules.csv", rows)
}

func (s *Server) onConnections(c *gin.Context) {
	rows := [][]string{{"remote_ip", "remote_port", "local_ip", "local_port", "us_online"}}
	if s.deps.Connections != nil {
		for _, conn := range s.deps.Connections.Snapshot() {
			rows = append(rows, []string{
				conn.RemoteIP, conn.RemotePort, conn.LocalIP, conn.LocalPort,
				strconv.FormatUint(conn.USOnline, 10),
			})
		}
	}
	writeCSV(c, "connections.csv", rows)
}

func (s *Server) onProfile(c *gin.Context) {
	rows := [][]string{{"file", "line", "func", "samples", "us_total", "us_exclusive"}}
	for _, sample := range profiler.Snapshot() {
		rows = append(rows, []string{
			sample.File,
			strconv.Itoa(sample.Line),
			sample.Func,
			strconv.FormatUint(sample.Samples, 10),
			strconv.FormatUint(sample.USTotal, 10),
			strconv.FormatUint(sample.USExclusive, 10),
		})
	}
	writeCSV(c, "profile.csv", rows)
}

// onBuiltins lists every compiled-in Builtin and its current status,
// distinct from onModules' listing of dynamically loaded .so modules.
func (s *Server) onBuiltins(c *gin.Context) {
	rows := [][]string{{"name", "status"}}
	if s.deps.Builtins != nil {
		for _, name := range s.deps.Builtins.Names() {
			b, _ := s.deps.Builtins.Get(name)
			status, err := b.Status()
			if err != nil {
				rows = append(rows, []string{name, "error: " + err.Error()})
				continue
			}
			rows = append(rows, []string{name, fmt.Sprint(status)})
		}
	}
	writeCSV(c, "builtins.csv", rows)
}

func (s *Server) onInvokeBuiltin(c *gin.Context) {
	name := strings.TrimSpace(c.Query("name"))
	action := strings.TrimSpace(c.Query("action"))
	if name == "" || action == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if s.deps.Builtins == nil {
		c.Status(http.StatusNotFound)
		return
	}
	args := make(map[string]string)
	for k, v := range c.Request.URL.Query() {
		if k == "name" || k == "action" || len(v) == 0 {
			continue
		}
		args[k] = v[0]
	}
	result, err := s.deps.Builtins.Invoke(name, action, args)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (s *Server) onSetLogMask(c *gin.Context) {
	toDisable, _ := strconv.ParseUint(c.Query("to_disable"), 10, 64)
	toEnable, _ := strconv.ParseUint(c.Query("to_enable"), 10, 64)
	if s.deps.OnSetLogMask != nil {
		s.deps.OnSetLogMask(toDisable, toEnable)
	}
	c.Status(http.StatusOK)
}

// writeCSV emits rows as an RFC 4180 CSV response via the standard
// library's csv.Writer.
func writeCSV(c *gin.Context, filename string, rows [][]string) {
	c.Header("Content-Disposition", `attachment; name="`+filename+`"`)
	c.Writer.Header().Set("Content-Type", "text/csv; charset=utf-8")
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	w.UseCRLF = true
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return
		}
	}
	w.Flush()
}
