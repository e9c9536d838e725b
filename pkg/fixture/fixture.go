// Package fixture serves a static stand-in for the flow platform's rendered UI
package fixture

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// TargetFlow is the flow the fault switches act on
const TargetFlow = "user-onboarding"

// Elements that can be removed through the missing= query parameter
const (
	ElemHeading = "heading"
	ElemTab     = "tab"
	ElemCard    = "card"
	ElemButton  = "button"
	ElemDialog  = "dialog"
	ElemClose   = "close"
)

//go:embed page.html
var pageHTML string

var pageTmpl = template.Must(template.New("page").Parse(pageHTML))

// Faults alter the rendered page so failure paths can be exercised.
// They are read from the query string: ?missing=tab,close&duplicate=1&stuck=1&delay=300ms
type Faults struct {
	Missing   map[string]bool
	Duplicate bool
	Stuck     bool
	Delay     time.Duration
}

// ParseFaults reads faults from query parameters
func ParseFaults(q url.Values) (Faults, error) {
	f := Faults{Missing: make(map[string]bool)}
	for _, v := range q["missing"] {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			switch name {
			case "":
			case ElemHeading, ElemTab, ElemCard, ElemButton, ElemDialog, ElemClose:
				f.Missing[name] = true
			default:
				return Faults{}, fmt.Errorf("unknown element %q", name)
			}
		}
	}

	var err error
	if v := q.Get("duplicate"); v != "" {
		if f.Duplicate, err = strconv.ParseBool(v); err != nil {
			return Faults{}, fmt.Errorf("invalid duplicate: %w", err)
		}
	}
	if v := q.Get("stuck"); v != "" {
		if f.Stuck, err = strconv.ParseBool(v); err != nil {
			return Faults{}, fmt.Errorf("invalid stuck: %w", err)
		}
	}
	if v := q.Get("delay"); v != "" {
		if f.Delay, err = time.ParseDuration(v); err != nil {
			return Faults{}, fmt.Errorf("invalid delay: %w", err)
		}
	}
	return f, nil
}

// ==================== View Model ====================

type tabView struct {
	ID       string
	Label    string
	Selected bool
}

type cardView struct {
	Flow
	ButtonHidden bool
}

type groupView struct {
	Category string
	Cards    []cardView
}

type dialogView struct {
	Flow
	Step        FlowStep
	StepCount   int
	CloseButton bool
}

type pageData struct {
	ShowHeading bool
	Tabs        []tabView
	Panels      []tabView
	Groups      []groupView
	Dialogs     []dialogView
	DelayMS     int64
	Stuck       bool
}

var tabs = []tabView{
	{ID: "overview", Label: "Overview", Selected: true},
	{ID: "certificates", Label: "Certificates"},
	{ID: "flows", Label: "Manual Flows"},
	{ID: "automated", Label: "Automated"},
	{ID: "backoffice", Label: "Backoffice"},
}

func buildPage(groups []FlowGroup, f Faults) pageData {
	data := pageData{
		ShowHeading: !f.Missing[ElemHeading],
		Panels:      tabs,
		DelayMS:     f.Delay.Milliseconds(),
		Stuck:       f.Stuck,
	}

	for _, t := range tabs {
		if t.ID == "flows" && f.Missing[ElemTab] {
			continue
		}
		data.Tabs = append(data.Tabs, t)
	}

	for _, g := range groups {
		gv := groupView{Category: g.Category}
		for _, fl := range g.Flows {
			target := fl.ID == TargetFlow
			if !(target && f.Missing[ElemCard]) {
				card := cardView{Flow: fl, ButtonHidden: target && f.Missing[ElemButton]}
				gv.Cards = append(gv.Cards, card)
				if target && f.Duplicate {
					gv.Cards = append(gv.Cards, card)
				}
			}
			if !(target && f.Missing[ElemDialog]) {
				data.Dialogs = append(data.Dialogs, dialogView{
					Flow:        fl,
					Step:        fl.FirstStep(),
					StepCount:   len(fl.Steps),
					CloseButton: !(target && f.Missing[ElemClose]),
				})
			}
		}
		data.Groups = append(data.Groups, gv)
	}
	return data
}

// ==================== Handlers ====================

// Server serves the platform pages
type Server struct {
	groups []FlowGroup
	log    *logrus.Entry
}

// NewServer creates a fixture server over the given flow groups
func NewServer(groups []FlowGroup, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{groups: groups, log: log}
}

// Router returns the fixture routes
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.ServePage).Methods("GET")
	r.HandleFunc("/healthz", s.Health).Methods("GET")
	r.HandleFunc("/api/flows", s.ListFlows).Methods("GET")
	return r
}

// ServePage renders the platform page with any requested faults applied
func (s *Server) ServePage(w http.ResponseWriter, r *http.Request) {
	faults, err := ParseFaults(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(faults.Missing) > 0 || faults.Duplicate || faults.Stuck || faults.Delay > 0 {
		s.log.WithField("query", r.URL.RawQuery).Debug("Serving page with faults")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTmpl.Execute(w, buildPage(s.groups, faults)); err != nil {
		s.log.WithError(err).Error("Failed to render page")
	}
}

// Health reports readiness
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

type flowSummary struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Steps    []string `json:"steps"`
}

// ListFlows returns the sample flows as JSON
func (s *Server) ListFlows(w http.ResponseWriter, r *http.Request) {
	var out []flowSummary
	for _, g := range s.groups {
		for _, fl := range g.Flows {
			sum := flowSummary{ID: fl.ID, Name: fl.Name, Category: g.Category}
			for _, st := range fl.Steps {
				sum.Steps = append(sum.Steps, st.Name)
			}
			out = append(out, sum)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
