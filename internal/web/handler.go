// Package web provides the server-rendered HTML dashboard for bors-mq.
// No JavaScript frameworks — pages are functional with JS disabled, using
// <meta http-equiv="refresh"> for auto-refresh.
package web

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jogman/bors-mq/internal/controller"
	"github.com/jogman/bors-mq/internal/forge"
	"github.com/jogman/bors-mq/internal/state"
)

//go:embed templates/*.html templates/*.css
var templateFS embed.FS

// funcMap provides template helper functions.
var funcMap = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
	"checkIcon": func(r state.CheckResult, reported bool) string {
		if !reported {
			return "⏳"
		}

		if r.Passed {
			return "✅"
		}

		return "❌"
	},
	"relativeTime": func(t time.Time) string {
		return RelativeTime(t, time.Now())
	},
}

var templates = template.Must(
	template.New("").Funcs(funcMap).ParseFS(templateFS, "templates/*.html"),
)

// RepoOverview holds the data for one repo in the overview page.
type RepoOverview struct {
	Owner     string
	Name      string
	QueueSize int
}

// OverviewData is the template data for the overview page.
type OverviewData struct {
	Repos           []RepoOverview
	RefreshInterval int // seconds
}

// RepoDetailEntry holds one queue entry for the repo detail page.
type RepoDetailEntry struct {
	PrNumber     int64
	BaseRefName  string
	State        string
	HighPriority bool
}

// RepoDetailData is the template data for the repo detail page.
type RepoDetailData struct {
	Owner           string
	Name            string
	Entries         []RepoDetailEntry
	RefreshInterval int // seconds
}

// CheckStatusView is one required check's reported (or pending) outcome.
type CheckStatusView struct {
	Name     string
	Reported bool
	Result   state.CheckResult
}

// PRDetailData is the template data for the PR detail page.
type PRDetailData struct {
	Owner           string
	Name            string
	PrNumber        int64
	Title           string
	Author          string
	HTMLURL         string
	State           string
	Position        int
	EnqueuedAt      time.Time
	MergeBranchURL  string
	CheckStatuses   []CheckStatusView
	InQueue         bool
	RefreshInterval int // seconds
}

// RepoLister abstracts how the dashboard gets the current managed repo set
// and looks up a repo's Controller. Implementations include
// controller.Registry (dynamic) and static lists (tests).
type RepoLister interface {
	List() []string
	Contains(fullName string) bool
	Lookup(fullName string) (*controller.Controller, bool)
}

// Deps holds the dependencies the web handlers need.
type Deps struct {
	Repos           RepoLister
	Forge           forge.Client
	ExternalURL     string // not read by the handlers; PR links use the forge's HTMLURL
	RefreshInterval int    // seconds
}

// NewMux creates an http.ServeMux with the dashboard routes registered.
func NewMux(deps *Deps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/static/style.css", staticCSSHandler)
	mux.HandleFunc("/", overviewHandler(deps))
	mux.HandleFunc("/repo/", repoHandler(deps))

	return mux
}

func staticCSSHandler(w http.ResponseWriter, _ *http.Request) {
	data, err := templateFS.ReadFile("templates/style.css")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(data)
}

func overviewHandler(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		data := OverviewData{RefreshInterval: deps.RefreshInterval}

		for _, full := range sortedKeys(deps.Repos.List()) {
			owner, name, _ := strings.Cut(full, "/")
			overview := RepoOverview{Owner: owner, Name: name}

			if ctrl, ok := deps.Repos.Lookup(full); ok {
				for _, pr := range ctrl.Store().Snapshot() {
					if !pr.Status.IsQueued() {
						continue
					}

					overview.QueueSize++
				}
			}

			data.Repos = append(data.Repos, overview)
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := templates.ExecuteTemplate(w, "overview.html", data); err != nil {
			slog.Error("failed to render overview", "error", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	}
}

func sortedKeys(keys []string) []string {
	out := append([]string{}, keys...)
	sort.Strings(out)

	return out
}

// repoHandler serves repo and PR detail pages:
//   - GET /repo/{owner}/{name} — repo queue listing
//   - GET /repo/{owner}/{name}/pr/{number} — PR detail
func repoHandler(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/repo/")

		owner, rest, ok := strings.Cut(path, "/")
		if !ok || owner == "" || rest == "" {
			http.NotFound(w, r)
			return
		}

		var name, prNumberStr string

		if idx := strings.Index(rest, "/"); idx >= 0 {
			name = rest[:idx]
			suffix := rest[idx+1:] // e.g. "pr/42"

			prPrefix, numStr, hasPR := strings.Cut(suffix, "/")
			if !hasPR || prPrefix != "pr" || numStr == "" {
				http.NotFound(w, r)
				return
			}

			prNumberStr = numStr
		} else {
			name = rest
		}

		if name == "" {
			http.NotFound(w, r)
			return
		}

		fullName := owner + "/" + name
		if !deps.Repos.Contains(fullName) {
			http.NotFound(w, r)
			return
		}

		ctrl, _ := deps.Repos.Lookup(fullName)

		if prNumberStr != "" {
			servePRDetail(w, r, deps, ctrl, owner, name, prNumberStr)
		} else {
			serveRepoDetail(w, ctrl, owner, name, deps.RefreshInterval)
		}
	}
}

func serveRepoDetail(w http.ResponseWriter, ctrl *controller.Controller, owner, name string, refresh int) {
	data := RepoDetailData{Owner: owner, Name: name, RefreshInterval: refresh}

	highPriority := ctrl.Config().Labels.HighPriority

	active := make([]*state.PullRequestState, 0)

	for _, pr := range ctrl.Store().Snapshot() {
		if pr.Status.IsQueued() || pr.Status.IsTesting() {
			active = append(active, pr)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		pi, pj := active[i].HasLabel(highPriority), active[j].HasLabel(highPriority)
		if pi != pj {
			return pi
		}

		return active[i].Number < active[j].Number
	})

	for _, pr := range active {
		data.Entries = append(data.Entries, RepoDetailEntry{
			PrNumber:     pr.Number,
			BaseRefName:  pr.BaseRefName,
			State:        pr.Status.Kind.String(),
			HighPriority: pr.HasLabel(highPriority),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, "repo.html", data); err != nil {
		slog.Error("failed to render repo detail", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func servePRDetail(w http.ResponseWriter, r *http.Request, deps *Deps, ctrl *controller.Controller, owner, name, prNumberStr string) {
	prNumber, err := strconv.ParseInt(prNumberStr, 10, 64)
	if err != nil || prNumber <= 0 {
		http.NotFound(w, r)
		return
	}

	data := PRDetailData{
		Owner:           owner,
		Name:            name,
		PrNumber:        prNumber,
		Title:           "—",
		Author:          "—",
		RefreshInterval: deps.RefreshInterval,
	}

	pr := ctrl.Store().Get(prNumber)
	if pr == nil {
		data.InQueue = false
		renderPR(w, data)

		return
	}

	data.InQueue = true
	data.State = pr.Status.Kind.String()

	snapshot := ctrl.Store().Snapshot()
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Number < snapshot[j].Number })

	position := 0

	for _, p := range snapshot {
		if !p.Status.IsQueued() && !p.Status.IsTesting() {
			continue
		}

		position++

		if p.Number == prNumber {
			data.Position = position
		}
	}

	if deps.Forge != nil {
		if remote, err := deps.Forge.GetPullRequest(r.Context(), owner, name, prNumber); err != nil {
			slog.Warn("failed to fetch PR from forge", "pr", prNumber, "error", err)
		} else if remote != nil {
			data.Title = remote.Title
			data.Author = remote.Author
			data.HTMLURL = remote.HTMLURL
		}
	}

	if pr.Status.IsTesting() {
		for _, check := range ctrl.Config().Checks {
			result, reported := pr.Status.TestResults[check]
			data.CheckStatuses = append(data.CheckStatuses, CheckStatusView{
				Name:     check,
				Reported: reported,
				Result:   result,
			})
		}

		data.EnqueuedAt = pr.Status.TestsStartedAt
	}

	renderPR(w, data)
}

func renderPR(w http.ResponseWriter, data PRDetailData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, "pr.html", data); err != nil {
		slog.Error("failed to render PR detail", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
