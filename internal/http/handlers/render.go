package handlers

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
	"github.com/wolfman30/smartqueue-portal/internal/session"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Static serves the embedded assets under /static/.
func Static() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

var pageNames = []string{
	"home", "about", "contact", "login", "register",
	"dashboard", "book", "mine", "password", "admin", "admin_messages",
}

// Renderer executes the page templates inside the shared layout.
type Renderer struct {
	pages        map[string]*template.Template
	loc          *time.Location
	mediaBaseURL string
	logger       *logging.Logger
}

// Page is the data every template receives.
type Page struct {
	Title          string
	Path           string
	User           *qmsapi.User
	Flashes        []session.Flash
	RefreshSeconds int
	Data           any
}

// IsStaff reports whether the signed-in user sees the operations menu.
func (p Page) IsStaff() bool {
	return p.User != nil && p.User.Role.IsStaff()
}

// NewRenderer parses every page template.
func NewRenderer(loc *time.Location, mediaBaseURL string, logger *logging.Logger) (*Renderer, error) {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = logging.Default()
	}
	rd := &Renderer{
		pages:        make(map[string]*template.Template, len(pageNames)),
		loc:          loc,
		mediaBaseURL: strings.TrimRight(mediaBaseURL, "/"),
		logger:       logger,
	}
	funcs := rd.funcs()
	for _, name := range pageNames {
		tmpl, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		rd.pages[name] = tmpl
	}
	return rd, nil
}

func (rd *Renderer) funcs() template.FuncMap {
	return template.FuncMap{
		"datetime":      rd.formatDateTime,
		"date":          rd.formatDate,
		"clock":         rd.formatClock,
		"statusClass":   statusClass,
		"priorityClass": priorityClass,
		"qrURL":         rd.qrURL,
		"percent":       func(v float64) string { return fmt.Sprintf("%.1f%%", v) },
		"minutes":       func(v float64) string { return fmt.Sprintf("%.0f min", v) },
		"lower":         strings.ToLower,
		"title":         titleCase,
		"eqID":          func(a, b int64) bool { return a == b },
	}
}

func (rd *Renderer) parse(value string) (time.Time, bool) {
	t, err := qmsapi.ParseDateTime(value, rd.loc)
	if err != nil {
		return time.Time{}, false
	}
	return t.In(rd.loc), true
}

func (rd *Renderer) formatDateTime(value string) string {
	t, ok := rd.parse(value)
	if !ok {
		return value
	}
	return t.Format("Jan 2, 2006 03:04 PM")
}

func (rd *Renderer) formatDate(value string) string {
	t, ok := rd.parse(value)
	if !ok {
		return value
	}
	return t.Format("Monday, January 2, 2006")
}

func (rd *Renderer) formatClock(value string) string {
	t, ok := rd.parse(value)
	if !ok {
		return value
	}
	return t.Format("03:04 PM")
}

func (rd *Renderer) qrURL(path string) string {
	if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return rd.mediaBaseURL + path
}

func statusClass(s qmsapi.Status) string {
	switch s {
	case qmsapi.StatusScheduled:
		return "badge-blue"
	case qmsapi.StatusWaiting:
		return "badge-yellow"
	case qmsapi.StatusInProgress:
		return "badge-purple"
	case qmsapi.StatusCompleted:
		return "badge-green"
	case qmsapi.StatusCancelled:
		return "badge-red"
	default:
		return "badge-gray"
	}
}

func priorityClass(p qmsapi.Priority) string {
	switch p {
	case qmsapi.PriorityElderly:
		return "badge-orange"
	case qmsapi.PriorityDisabled:
		return "badge-indigo"
	case qmsapi.PriorityEmergency:
		return "badge-red"
	default:
		return "badge-gray"
	}
}

func titleCase(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "_", " "))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// PageOption tweaks a rendered page.
type PageOption func(*Page)

// WithRefresh asks the browser to reload the page every interval.
func WithRefresh(interval time.Duration) PageOption {
	return func(p *Page) { p.RefreshSeconds = int(interval.Seconds()) }
}

// Render writes a full page. Pending flash notices are consumed.
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any, opts ...PageOption) {
	tmpl, ok := rd.pages[name]
	if !ok {
		rd.logger.Error("unknown template", "template", name)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	page := Page{Title: title, Path: r.URL.Path, Data: data}
	if sess := session.FromContext(r.Context()); sess != nil {
		if user, ok := sess.Identity(); ok {
			page.User = &user
		}
		page.Flashes = sess.Flashes(r.Context())
	}
	for _, opt := range opts {
		opt(&page)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", page); err != nil {
		rd.logger.Error("failed to render template", "template", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// redirect answers with 303 See Other.
func redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// expired sends the browser to the login page when err says the session
// could not be renewed.
func expired(w http.ResponseWriter, r *http.Request, err error) bool {
	if !errors.Is(err, qmsapi.ErrSessionExpired) {
		return false
	}
	if sess := session.FromContext(r.Context()); sess != nil {
		sess.Notify(r.Context(), session.FlashInfo, "Your session has expired. Please sign in again.")
	}
	redirect(w, r, session.PathLogin)
	return true
}

func notify(r *http.Request, kind, message string) {
	if sess := session.FromContext(r.Context()); sess != nil {
		sess.Notify(r.Context(), kind, message)
	}
}
