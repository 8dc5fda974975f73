package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type school struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	WorkingDays []string `json:"working_days"`
}

type class struct {
	ID          int64    `json:"id"`
	SchoolID    int64    `json:"school_id"`
	ClassNumber int      `json:"class_number"`
	Sections    []string `json:"sections,omitempty"`
	NoSections  bool     `json:"no_sections"`
	CreatedAt   string   `json:"created_at"`
}

type generateRequest struct {
	ClassIDs   []int64 `json:"class_ids"`
	Regenerate bool    `json:"regenerate"`
}

type stats struct {
	Generations int64  `json:"generations"`
	Rejections  int64  `json:"rejections"`
	Fault       string `json:"fault"`
	Since       string `json:"since"`
}

var (
	mu        sync.Mutex
	schools   []school
	classes   []class
	generated = map[int64]bool{} // class id -> has timetable
	fault     string             // "", "reject", "error" or "slow"
	gens      int64
	rejects   int64
	since     time.Time
)

func main() {
	seed()

	addr := ":8000"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	fault = os.Getenv("FAULT")

	http.HandleFunc("/api/schools/", schoolsHandler)
	http.HandleFunc("/api/classes/", classesHandler)
	http.HandleFunc("/api/timetables/school/", summaryHandler)
	http.HandleFunc("/api/timetables/generate", generateHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/fault", faultHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		seed()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("fake-scheduler listening on %s (fault=%q)", addr, fault)
	log.Fatal(http.ListenAndServe(addr, nil))
}

// seed loads two schools: 1 with three classes, 2 with none.
func seed() {
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UTC()
	since = now
	gens, rejects = 0, 0
	generated = map[int64]bool{}
	days := []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}
	schools = []school{
		{ID: 1, Name: "Greenfield High", WorkingDays: days},
		{ID: 2, Name: "Empty Primary", WorkingDays: days[:3]},
	}
	classes = []class{
		{ID: 10, SchoolID: 1, ClassNumber: 6, Sections: []string{"A", "B"}, CreatedAt: now.Format(time.RFC3339)},
		{ID: 11, SchoolID: 1, ClassNumber: 7, Sections: []string{"A"}, CreatedAt: now.Format(time.RFC3339)},
		{ID: 12, SchoolID: 1, ClassNumber: 8, NoSections: true, CreatedAt: now.Format(time.RFC3339)},
	}
}

func schoolsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	mu.Lock()
	defer mu.Unlock()
	writeJSON(w, http.StatusOK, schools)
}

func classesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("school_id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "school_id must be an integer")
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if findSchool(id) == nil {
		writeDetail(w, http.StatusNotFound, "School not found")
		return
	}
	out := []class{}
	for _, c := range classes {
		if c.SchoolID == id {
			out = append(out, c)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// summaryHandler serves /api/timetables/school/{id}/summary.
func summaryHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/timetables/school/")
	idStr, ok := strings.CutSuffix(rest, "/summary")
	if !ok {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "school id must be an integer")
		return
	}

	mu.Lock()
	defer mu.Unlock()
	s := findSchool(id)
	if s == nil {
		writeDetail(w, http.StatusNotFound, "School not found")
		return
	}
	total, withTT := 0, 0
	for _, c := range classes {
		if c.SchoolID != id {
			continue
		}
		total++
		if generated[c.ID] {
			withTT++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"school_name":             s.Name,
		"total_classes":           total,
		"total_teachers":          total * 2,
		"classes_with_timetables": withTT,
		"working_days":            s.WorkingDays,
	})
}

func generateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body: "+err.Error())
		return
	}
	defer r.Body.Close()

	mu.Lock()
	mode := fault
	mu.Unlock()

	switch mode {
	case "reject":
		mu.Lock()
		rejects++
		mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Class 6 has no subjects assigned")
		return
	case "error":
		writeDetail(w, http.StatusInternalServerError, "solver crashed")
		return
	case "slow":
		select {
		case <-time.After(10 * time.Second):
		case <-r.Context().Done():
			return
		}
	}

	mu.Lock()
	timetables := make([]map[string]any, 0, len(req.ClassIDs))
	for _, id := range req.ClassIDs {
		generated[id] = true
		timetables = append(timetables, map[string]any{"class_id": id})
	}
	gens++
	current := gens
	mu.Unlock()

	log.Printf("generation #%d: %d classes (regenerate=%t)", current, len(req.ClassIDs), req.Regenerate)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    fmt.Sprintf("Generated timetables for %d classes", len(req.ClassIDs)),
		"timetables": timetables,
	})
}

// faultHandler sets the failure mode: POST /fault?mode=reject|error|slow, empty clears.
func faultHandler(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	switch mode {
	case "", "reject", "error", "slow":
	default:
		writeDetail(w, http.StatusBadRequest, "unknown mode "+mode)
		return
	}
	mu.Lock()
	fault = mode
	mu.Unlock()
	log.Printf("fault mode set to %q", mode)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Generations: gens,
		Rejections:  rejects,
		Fault:       fault,
		Since:       since.Format(time.RFC3339),
	}
	mu.Unlock()

	writeJSON(w, http.StatusOK, s)
}

func findSchool(id int64) *school {
	for i := range schools {
		if schools[i].ID == id {
			return &schools[i]
		}
	}
	return nil
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
